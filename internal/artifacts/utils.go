package artifacts

import (
	"errors"
	"strings"
)

const fileScheme = "file://"

// FileURI turns an absolute path into a file:// URI.
func FileURI(path string) string {
	return fileScheme + path
}

// PathFromURI returns the local path behind a file:// URI.
func PathFromURI(uri string) (string, error) {
	if !strings.HasPrefix(uri, fileScheme) {
		return "", errors.New("not a file:// URI")
	}
	return strings.TrimPrefix(uri, fileScheme), nil
}
