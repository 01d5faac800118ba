//go:build notui

package dashboard

import (
	"fmt"
	"net/http"
)

// Run prints static status once (no interactivity in notui build).
func Run(apiClient *http.Client, apiBase string) error {
	data := FetchStatus(apiClient, apiBase)
	fmt.Println(RenderStatic(data))
	return nil
}

// RenderStatic renders a plain text status display.
func RenderStatic(data StatusData) string {
	return RenderPlain(data)
}
