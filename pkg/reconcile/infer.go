package reconcile

import "strings"

// ImageInfo is what can be guessed about a plugin from its image reference alone.
type ImageInfo struct {
	Name       string
	DockImage  string
	PublicRepo string
}

// InferFromImage guesses a plugin's name and source repository from its image.
//
//	InferFromImage("ghcr.io/fnndsc/pl-dircopy:2.1.1")
//	// => {Name: "pl-dircopy", PublicRepo: "https://github.com/fnndsc/pl-dircopy"}
func InferFromImage(image string) ImageInfo {
	base := image
	if at := strings.Index(base, "@"); at != -1 {
		base = base[:at]
	}
	if colon := strings.LastIndex(base, ":"); colon > strings.LastIndex(base, "/") {
		base = base[:colon]
	}

	segments := strings.Split(base, "/")
	name := segments[len(segments)-1]
	repo := name
	if len(segments) > 1 {
		repo = segments[len(segments)-2] + "/" + name
	}
	return ImageInfo{
		Name:       name,
		DockImage:  image,
		PublicRepo: "https://github.com/" + repo,
	}
}
