package triage

import "strings"

// SkipApps lists lowercase application name fragments whose screens are never
// captured: dev tools (code is noise), OS utilities, password managers, media
// players, VMs, app stores, and ambient itself.
var SkipApps = []string{
	// dev tools
	"terminal", "iterm", "warp", "hyper", "alacritty", "kitty",
	"visual studio code", "code", "xcode", "intellij", "android studio",
	"pycharm", "webstorm", "rustrover", "goland", "clion", "datagrip",
	"sublime text", "atom", "neovim", "vim",
	"cmd.exe", "powershell", "windows terminal", "command prompt", "devenv",

	// macOS utilities
	"finder", "system preferences", "system settings",
	"activity monitor", "console", "disk utility", "font book",
	"migration assistant", "bluetooth", "airdrop",

	// windows utilities
	"explorer", "task manager", "control panel", "registry editor",
	"device manager", "event viewer", "windows security",

	// credentials
	"1password", "bitwarden", "lastpass", "dashlane", "keychain access",
	"authy", "google authenticator", "credential manager",

	// media
	"spotify", "music", "vlc", "quicktime player", "iina", "podcasts",
	"tv", "infuse", "plex", "groove music", "movies & tv",

	// containers and VMs
	"docker desktop", "docker", "parallels desktop", "vmware",

	// app stores
	"app store", "software update", "self service", "microsoft store",

	// ourselves, and the desktop client we sit behind
	"ambient", "reattend",
}

// IsSkipApp reports whether the application's screen should never be captured.
// Matching is a case-insensitive substring test against SkipApps.
func IsSkipApp(name string) bool {
	if !KnownApp(name) {
		return false
	}
	lower := strings.ToLower(name)
	for _, skip := range SkipApps {
		if strings.Contains(lower, skip) {
			return true
		}
	}
	return false
}
