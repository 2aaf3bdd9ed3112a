package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	skillswap "github.com/skillswap-app/skillswap-go"
	"github.com/spf13/cobra"
)

func init() {
	signinCmd.Flags().String("password", "", "Password (prompted for when omitted)")

	signupCmd.Flags().String("password", "", "Password, at least 8 characters (prompted for when omitted)")
	signupCmd.Flags().String("name", "", "First name (required)")
	signupCmd.Flags().String("surname", "", "Last name")
	signupCmd.Flags().String("email", "", "Email address")

	profileUpdateCmd.Flags().String("name", "", "New first name")
	profileUpdateCmd.Flags().String("surname", "", "New last name")
	profileUpdateCmd.Flags().String("username", "", "New username")
	profileUpdateCmd.Flags().String("email", "", "New email address")
	profileUpdateCmd.Flags().String("skills", "", "Comma separated skillset; replaces the current one")

	rootCmd.AddCommand(signinCmd)
	rootCmd.AddCommand(signupCmd)
	rootCmd.AddCommand(signoutCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileUpdateCmd)
}

// passwordFlag returns --password, falling back to a line read from stdin.
func passwordFlag(cmd *cobra.Command) (string, error) {
	password, _ := cmd.Flags().GetString("password")
	if password != "" {
		return password, nil
	}
	fmt.Fprint(os.Stderr, "Password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("cannot read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// persistentCoordinator always stores the session in the config file, even
// when credentials are also present in the environment.
func persistentCoordinator(cfg *Config) *skillswap.Coordinator {
	opts := &skillswap.CoordinatorOptions{Sessions: configSessionStore{}, Logger: logger}
	return skillswap.NewCoordinator(newClient(cfg), opts)
}

var signinCmd = &cobra.Command{
	Use:   "signin <username>",
	Short: "Sign in and save the session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadEffectiveConfig()
		if err != nil {
			return err
		}
		password, err := passwordFlag(cmd)
		if err != nil {
			return err
		}

		ctx, cancel := commandContext(cfg)
		defer cancel()

		user, err := persistentCoordinator(cfg).SignIn(ctx, args[0], password)
		if err != nil {
			return fmt.Errorf("sign in failed: %w", err)
		}
		return printOutput(user, func() {
			fmt.Printf("Signed in as %s (id %s)\n", user.DisplayName(), user.ID)
		})
	},
}

var signupCmd = &cobra.Command{
	Use:   "signup <username>",
	Short: "Create an account and sign in with it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadEffectiveConfig()
		if err != nil {
			return err
		}
		password, err := passwordFlag(cmd)
		if err != nil {
			return err
		}
		name, _ := cmd.Flags().GetString("name")
		surname, _ := cmd.Flags().GetString("surname")
		email, _ := cmd.Flags().GetString("email")

		ctx, cancel := commandContext(cfg)
		defer cancel()

		user, err := persistentCoordinator(cfg).SignUp(ctx, skillswap.SignUpInput{
			Username:  args[0],
			Password:  password,
			Password2: password,
			Name:      name,
			Surname:   surname,
			Email:     email,
		})
		if err != nil {
			return fmt.Errorf("sign up failed: %w", err)
		}
		return printOutput(user, func() {
			fmt.Printf("Account created. Signed in as %s (id %s)\n", user.DisplayName(), user.ID)
		})
	},
}

var signoutCmd = &cobra.Command{
	Use:   "signout",
	Short: "Forget the saved session",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadEffectiveConfig()
		if err != nil {
			return err
		}
		if err := persistentCoordinator(cfg).SignOut(); err != nil {
			return fmt.Errorf("failed to clear session: %w", err)
		}
		fmt.Println("Signed out.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and session status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadEffectiveConfig()
		if err != nil {
			return err
		}

		fmt.Println("Configuration:")
		fmt.Printf("  Base URL:    %s\n", valueOrDefault(cfg.Default.BaseURL, skillswap.DefaultBaseURL))
		fmt.Printf("  Search mode: %s\n", valueOrDefault(cfg.Default.SearchMode, "(automatic)"))

		fmt.Println()
		fmt.Println("Session:")
		if cfg.Auth.Username == "" {
			fmt.Println("  Username:    (not signed in)")
			return nil
		}
		fmt.Printf("  Username:    %s\n", cfg.Auth.Username)
		if cfg.Auth.Profile != nil {
			fmt.Printf("  Saved name:  %s\n", cfg.Auth.Profile.DisplayName())
		}

		ctx, cancel := commandContext(cfg)
		defer cancel()

		coord, err := newCoordinator(ctx, cfg, true)
		if err != nil {
			fmt.Printf("  Live check:  %v\n", err)
			return nil
		}
		user := coord.CurrentUser()
		fmt.Printf("  Live check:  ok (id %s)\n", user.ID)
		fmt.Printf("  Skills:      %s\n", valueOrDefault(strings.Join(user.SkillNames(), ", "), "(none)"))
		return nil
	},
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show or update your profile",
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the signed-in user's profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadEffectiveConfig()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cfg)
		defer cancel()

		coord, err := newCoordinator(ctx, cfg, true)
		if err != nil {
			return err
		}
		user := coord.CurrentUser()
		return printOutput(user, func() { printUser(user) })
	},
}

var profileUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update profile fields; omitted flags keep their value",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadEffectiveConfig()
		if err != nil {
			return err
		}

		var in skillswap.ProfileInput
		in.Name, _ = cmd.Flags().GetString("name")
		in.Surname, _ = cmd.Flags().GetString("surname")
		in.Username, _ = cmd.Flags().GetString("username")
		in.Email, _ = cmd.Flags().GetString("email")
		if cmd.Flags().Changed("skills") {
			raw, _ := cmd.Flags().GetString("skills")
			in.Skills = skillswap.ParseSkillNames(raw)
		}

		ctx, cancel := commandContext(cfg)
		defer cancel()

		coord, err := newCoordinator(ctx, cfg, true)
		if err != nil {
			return err
		}
		user, err := coord.UpdateProfile(ctx, in)
		if user == nil {
			return fmt.Errorf("profile update failed: %w", err)
		}
		if err != nil {
			logger.Warn("profile saved but offers could not be reloaded", "error", err)
		}
		return printOutput(user, func() {
			fmt.Println("Profile updated.")
			printUser(user)
		})
	},
}

func printUser(u *skillswap.User) {
	fmt.Printf("  ID:        %s\n", u.ID)
	fmt.Printf("  Username:  %s\n", u.Username)
	fmt.Printf("  Name:      %s\n", u.DisplayName())
	fmt.Printf("  Email:     %s\n", valueOrDefault(u.Email, "(not set)"))
	fmt.Printf("  Skills:    %s\n", valueOrDefault(strings.Join(u.SkillNames(), ", "), "(none)"))
}
