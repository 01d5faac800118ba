package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// plainConfirm prints title with a "[y/N]" suffix and reads one line from
// stdin. Only "y" or "yes" (case-insensitive) counts as acceptance.
func plainConfirm(title string) bool {
	fmt.Printf("%s [y/N]: ", title)
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	line = strings.ToLower(strings.TrimSpace(line))
	return line == "y" || line == "yes"
}
