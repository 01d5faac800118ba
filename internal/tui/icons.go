package tui

// Icons — each symbol is unique, universally recognized, and in widely-supported Unicode blocks.
// Color (green/red/yellow) is the primary signal; icon shape reinforces meaning.
const (
	IconShield  = "\u25C6" // ◆ — diamond (brand marker)
	IconCheck   = "\u2714" // ✔ — heavy check mark (success)
	IconCross   = "\u2716" // ✖ — heavy multiplication X (error)
	IconWarning = "\u26A0" // ⚠ — warning sign (universal)
	IconInfo    = "\u2139" // ℹ — information source
	IconDot     = "\u25CF" // ● — filled circle (running/active)
	IconCircle  = "\u25CB" // ○ — hollow circle (inactive)
	IconBlock   = "\u2298" // ⊘ — circled division slash (blocked/denied)
	IconBolt    = "\u26A1" // ⚡ — high voltage (hit counter)
	IconSquare  = "\u25AA" // ▪ — small square (severity badge)
)
