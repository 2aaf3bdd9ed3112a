package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(skillsCmd)
	skillsCmd.AddCommand(skillsListCmd)
	skillsCmd.AddCommand(skillsFindCmd)
}

var skillsCmd = &cobra.Command{
	Use:   "skills",
	Short: "Browse the skill catalog",
}

var skillsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every catalog skill",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadEffectiveConfig()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cfg)
		defer cancel()

		coord, err := newCoordinator(ctx, cfg, false)
		if err != nil {
			return err
		}
		skills := coord.LoadSkills(ctx)
		return printOutput(skills, func() {
			if len(skills) == 0 {
				fmt.Println("The skill catalog is empty or unreachable.")
				return
			}
			for _, s := range skills {
				fmt.Printf("%-6s %s\n", s.ID, s.Name)
			}
		})
	},
}

var skillsFindCmd = &cobra.Command{
	Use:   "find <name>",
	Short: "Look up a skill by exact name, ignoring case",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadEffectiveConfig()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cfg)
		defer cancel()

		coord, err := newCoordinator(ctx, cfg, false)
		if err != nil {
			return err
		}
		coord.LoadSkills(ctx)
		skill, ok := coord.Skills().FindByName(args[0])
		if !ok {
			return fmt.Errorf("no skill named %q in the catalog", args[0])
		}
		return printOutput(skill, func() {
			fmt.Printf("%-6s %s\n", skill.ID, skill.Name)
		})
	},
}
