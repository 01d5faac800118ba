//go:build notui

package cli

// confirm asks title as a yes/no question via a plain y/N read.
func confirm(title string) bool {
	return plainConfirm(title)
}
