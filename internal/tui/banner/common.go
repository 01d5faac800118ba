package banner

import "fmt"

// PrintBannerPlain prints a plain text banner (no colors, no box).
func PrintBannerPlain(version string) {
	if version != "" {
		fmt.Printf("ANONMANAGER v%s - Reversible System-State Orchestrator\n", version)
	} else {
		fmt.Println("ANONMANAGER - Reversible System-State Orchestrator")
	}
}

// PrintBannerCompactPlain prints a compact one-line banner (no colors).
func PrintBannerCompactPlain() {
	fmt.Println("  anonmanager - Reversible System-State Orchestrator")
}

// RevealLinesPlain prints lines without animation.
func RevealLinesPlain(lines []string) {
	for _, line := range lines {
		fmt.Println(line)
	}
}
