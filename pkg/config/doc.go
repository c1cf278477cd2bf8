// Package config loads the declarative provisioning spec and the tool settings.
//
// # Overview
//
// A spec file is YAML describing a control plane, its compute resources,
// users and plugins, and an optional home registry with its users:
//
//	version: "1.2"
//	on:
//	  control_plane_url: http://localhost:8000/api/v1/
//	  admin: {username: chris, password: chris1234}
//	  registry_url: http://localhost:8010/api/v1/
//	  public_registries: [https://cube.chrisproject.org/api/v1/]
//	control_plane:
//	  users: [{username: alice, password: alice1234}]
//	  compute_resources: [{name: host}]
//	  plugins:
//	    - pl-dircopy
//	    - ghcr.io/fnndsc/pl-tsdircopy:1.2.1
//	    - {name: pl-topologicalcopy, compute_resources: [host]}
//	registry:
//	  users: [{username: fnndsc, password: fnndsc1234}]
//
// # Components
//
// Parse decodes a spec strictly (unknown keys are errors) and validates it
// with struct tags plus cross-reference checks. Expand fills defaults and
// resolves plugin strings into search keys, producing the Expanded form the
// agenda works from.
//
// Settings are the tool's own knobs (logging, metrics, retries, HTTP
// limits). LoadSettings reads them with viper from defaults, an optional
// settings file and PROVISION_* environment variables.
//
// Watcher re-invokes a callback whenever the spec file is written,
// debounced so an editor's save burst causes a single reload.
//
// # Usage Example
//
//	spec, err := config.Load("chris.yml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	expanded, err := spec.Expand()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, p := range expanded.Plugins {
//	    fmt.Println(p.Key, p.ComputeResources)
//	}
package config
