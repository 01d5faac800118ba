package earlyinit

import "testing"

func TestHasForeground(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want bool
	}{
		{"nil args", nil, false},
		{"empty args", []string{}, false},
		{"only program name", []string{"anonmanager"}, false},
		{"foreground present", []string{"anonmanager", "--foreground"}, true},
		{"foreground with other flags", []string{"anonmanager", "--port", "8080", "--foreground"}, true},
		{"foreground first", []string{"anonmanager", "--foreground", "--port", "8080"}, true},
		{"no foreground", []string{"anonmanager", "--port", "8080"}, false},
		{"double dash stops scan", []string{"anonmanager", "--", "--foreground"}, false},
		{"foreground before double dash", []string{"anonmanager", "--foreground", "--", "extra"}, true},
		{"similar but wrong flag", []string{"anonmanager", "--foregrounds"}, false},
		{"substring not matched", []string{"anonmanager", "foreground"}, false},
		{"flag with equals", []string{"anonmanager", "--foreground=true"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasForeground(tt.args); got != tt.want {
				t.Errorf("HasForeground(%v) = %v, want %v", tt.args, got, tt.want)
			}
		})
	}
}
