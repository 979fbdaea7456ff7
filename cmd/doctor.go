package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/corelay/corelay/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("corelay doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, defaults will be used)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("  Config is invalid:\n%s\n", err)
	} else {
		fmt.Println("  Config validates OK")
	}

	fmt.Println()
	fmt.Println("  Agents:")
	for id, a := range cfg.Agents {
		fmt.Printf("    %-16s provider=%s model=%s\n", id, a.Provider, a.Model)
	}
	if len(cfg.Agents) == 0 {
		fmt.Println("    (none configured)")
	}

	fmt.Println()
	fmt.Println("  Teams:")
	for id, t := range cfg.Teams {
		fmt.Printf("    %-16s leader=%s members=%v\n", id, t.Leader, t.Agents)
	}
	if len(cfg.Teams) == 0 {
		fmt.Println("    (none configured)")
	}

	fmt.Println()
	fmt.Println("  Channels:")
	checkChannel("Discord", cfg.Channels.Discord.Enabled, cfg.Channels.Discord.Token != "")
	checkChannel("Telegram", cfg.Channels.Telegram.Enabled, cfg.Channels.Telegram.Token != "")

	fmt.Println()
	fmt.Println("  Agent CLI binaries:")
	checkBinary("claude")
	checkBinary("codex")
	checkBinary("gemini")

	fmt.Println()
	ws := config.ExpandHome(cfg.Workspace.Path)
	fmt.Printf("  Workspace: %s", ws)
	if _, err := os.Stat(ws); err != nil {
		fmt.Println(" (NOT FOUND)")
	} else {
		fmt.Println(" (OK)")
	}

	db := config.ExpandHome(cfg.Database.Path)
	fmt.Printf("  Database:  %s", db)
	if _, err := os.Stat(db); err != nil {
		fmt.Println(" (NOT FOUND, will be created)")
	} else {
		fmt.Println(" (OK)")
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkChannel(name string, enabled, hasCredentials bool) {
	status := "disabled"
	if enabled && hasCredentials {
		status = "enabled"
	} else if enabled {
		status = "enabled (missing token)"
	}
	fmt.Printf("    %-12s %s\n", name+":", status)
}

func checkBinary(name string) {
	path, err := exec.LookPath(name)
	if err != nil {
		fmt.Printf("    %-12s NOT FOUND\n", name+":")
	} else {
		fmt.Printf("    %-12s %s\n", name+":", path)
	}
}
