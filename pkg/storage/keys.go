package storage

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ValidateInitKey checks an init_upload key and returns the normalized
// AssetKey the batch will target. Paths are NFC-normalized so that two
// byte-distinct spellings of the same path cannot shadow each other.
func ValidateInitKey(init InitAssetKey) (AssetKey, error) {
	fullPath := norm.NFC.String(strings.TrimSpace(init.FullPath))

	if err := validateFullPath(fullPath); err != nil {
		return AssetKey{}, err
	}
	if err := validateCollection(init.Collection); err != nil {
		return AssetKey{}, err
	}
	if init.Name == "" {
		return AssetKey{}, fmt.Errorf("%w: name must not be empty", ErrInvalidKey)
	}

	return AssetKey{
		Name:        init.Name,
		FullPath:    fullPath,
		Token:       init.Token,
		Collection:  init.Collection,
		Owner:       init.Owner,
		Description: init.Description,
	}, nil
}

func validateFullPath(fullPath string) error {
	switch {
	case fullPath == "" || fullPath == "/":
		return fmt.Errorf("%w: full_path must not be empty", ErrInvalidKey)
	case !strings.HasPrefix(fullPath, "/"):
		return fmt.Errorf("%w: full_path %q must start with /", ErrInvalidKey, fullPath)
	case strings.Contains(fullPath, ".."):
		return fmt.Errorf("%w: full_path %q must not contain path traversal", ErrInvalidKey, fullPath)
	case strings.ContainsAny(fullPath, " \t\n\r"):
		return fmt.Errorf("%w: full_path %q must not contain whitespace", ErrInvalidKey, fullPath)
	case strings.Contains(fullPath, "//"):
		return fmt.Errorf("%w: full_path %q must not contain empty segments", ErrInvalidKey, fullPath)
	}
	return nil
}

func validateCollection(collection string) error {
	if collection == "" {
		return fmt.Errorf("%w: collection must not be empty", ErrInvalidKey)
	}
	if strings.ContainsAny(collection, "/ \t\n\r") {
		return fmt.Errorf("%w: collection %q must not contain separators or whitespace", ErrInvalidKey, collection)
	}
	return nil
}
