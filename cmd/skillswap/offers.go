package main

import (
	"fmt"
	"os"
	"strings"

	skillswap "github.com/skillswap-app/skillswap-go"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func init() {
	offersListCmd.Flags().Bool("mine", false, "Only show your own offers")

	offersSearchCmd.Flags().Bool("remote", false, "Let the server filter instead of the local matcher")
	offersSearchCmd.Flags().StringSlice("skill", nil, "Skill name filter for --remote (repeatable)")

	addOfferFlags(offersCreateCmd)
	addOfferFlags(offersUpdateCmd)
	offersCreateCmd.Flags().StringP("file", "f", "", "Read the offer from a YAML file")

	rootCmd.AddCommand(offersCmd)
	offersCmd.AddCommand(offersListCmd)
	offersCmd.AddCommand(offersSearchCmd)
	offersCmd.AddCommand(offersShowCmd)
	offersCmd.AddCommand(offersCreateCmd)
	offersCmd.AddCommand(offersUpdateCmd)
	offersCmd.AddCommand(offersDeleteCmd)
}

var offersCmd = &cobra.Command{
	Use:   "offers",
	Short: "Browse, search and manage skill offers",
}

var offersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all offers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadEffectiveConfig()
		if err != nil {
			return err
		}
		mine, _ := cmd.Flags().GetBool("mine")

		ctx, cancel := commandContext(cfg)
		defer cancel()

		coord, err := newCoordinator(ctx, cfg, mine)
		if err != nil {
			return err
		}
		if err := coord.LoadOffers(ctx); err != nil {
			return fmt.Errorf("failed to load offers: %w", err)
		}
		offers := coord.Offers()
		saveSnapshot(offers)

		if mine {
			self := coord.CurrentUser().ID
			own := offers[:0]
			for _, o := range offers {
				if o.UserID == self {
					own = append(own, o)
				}
			}
			offers = own
		}
		return printOutput(offers, func() { printOfferList(offers) })
	},
}

var offersSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search offers by title, description and skills",
	Long: "Search offers. The local matcher understands synonyms and Cyrillic/Latin spellings.\n" +
		"When the backend is unreachable, the last fetched offer list is searched instead.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadEffectiveConfig()
		if err != nil {
			return err
		}
		remote, _ := cmd.Flags().GetBool("remote")
		skills, _ := cmd.Flags().GetStringSlice("skill")

		ctx, cancel := commandContext(cfg)
		defer cancel()

		coord, err := newCoordinator(ctx, cfg, false)
		if err != nil {
			return err
		}

		if remote {
			offers, err := coord.SearchRemote(ctx, skillswap.OfferQuery{Search: args[0], Skills: skills})
			if err != nil {
				return fmt.Errorf("remote search failed: %w", err)
			}
			return printOutput(offers, func() { printOfferList(offers) })
		}

		var offers []skillswap.Offer
		err = coord.LoadOffers(ctx)
		switch {
		case err == nil:
			saveSnapshot(coord.Offers())
			offers = coord.Search(args[0])
		case skillswap.IsNetwork(err):
			offers, err = searchSnapshot(args[0], coord.SearchMode())
			if err != nil {
				return err
			}
		default:
			return fmt.Errorf("failed to load offers: %w", err)
		}
		return printOutput(offers, func() { printOfferList(offers) })
	},
}

var offersShowCmd = &cobra.Command{
	Use:   "show <offer-id>",
	Short: "Show one offer",
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
		offer, err := coord.Client().Offers.Get(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get offer: %w", err)
		}
		return printOutput(offer, func() { printOffer(*offer) })
	},
}

var offersCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Publish a new offer",
	Long:  "Publish a new offer from flags or from a YAML file (keys: title, description, skillsToTeach, skillsToLearn, learningFormat, location).",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadEffectiveConfig()
		if err != nil {
			return err
		}

		var in skillswap.OfferInput
		if path, _ := cmd.Flags().GetString("file"); path != "" {
			if in, err = readOfferFile(path); err != nil {
				return err
			}
		}
		applyOfferFlags(cmd, &in)

		ctx, cancel := commandContext(cfg)
		defer cancel()

		coord, err := newCoordinator(ctx, cfg, true)
		if err != nil {
			return err
		}
		offer, err := coord.CreateOffer(ctx, in)
		if offer == nil {
			return fmt.Errorf("failed to create offer: %w", err)
		}
		if err != nil {
			logger.Warn("offer created but the list could not be reloaded", "error", err)
		}
		return printOutput(offer, func() {
			fmt.Printf("Offer %s created.\n", offer.ID)
			printOffer(*offer)
		})
	},
}

var offersUpdateCmd = &cobra.Command{
	Use:   "update <offer-id>",
	Short: "Edit one of your offers; omitted flags keep their value",
	Args:  cobra.ExactArgs(1),
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
		current, err := coord.Client().Offers.Get(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get offer: %w", err)
		}
		in := skillswap.OfferInputFrom(*current)
		applyOfferFlags(cmd, &in)

		offer, err := coord.UpdateOffer(ctx, args[0], in)
		if offer == nil {
			return fmt.Errorf("failed to update offer: %w", err)
		}
		if err != nil {
			logger.Warn("offer updated but the list could not be reloaded", "error", err)
		}
		return printOutput(offer, func() {
			fmt.Printf("Offer %s updated.\n", offer.ID)
			printOffer(*offer)
		})
	},
}

var offersDeleteCmd = &cobra.Command{
	Use:   "delete <offer-id>",
	Short: "Delete one of your offers",
	Args:  cobra.ExactArgs(1),
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
		if err := coord.DeleteOffer(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to delete offer: %w", err)
		}
		fmt.Printf("Offer %s deleted.\n", args[0])
		return nil
	},
}

// ============================================================================
// Helpers
// ============================================================================

func addOfferFlags(c *cobra.Command) {
	c.Flags().String("title", "", "Offer title")
	c.Flags().String("description", "", "Offer description")
	c.Flags().String("teach", "", "Comma separated skills you can teach")
	c.Flags().String("learn", "", "Comma separated skills you want to learn")
	c.Flags().String("format", "", "Learning format: online, offline or both")
	c.Flags().String("location", "", "City or meeting place")
}

// applyOfferFlags overlays the flags the user actually passed onto in.
func applyOfferFlags(cmd *cobra.Command, in *skillswap.OfferInput) {
	flags := cmd.Flags()
	if flags.Changed("title") {
		in.Title, _ = flags.GetString("title")
	}
	if flags.Changed("description") {
		in.Description, _ = flags.GetString("description")
	}
	if flags.Changed("teach") {
		raw, _ := flags.GetString("teach")
		in.SkillsToTeach = skillswap.ParseSkillNames(raw)
	}
	if flags.Changed("learn") {
		raw, _ := flags.GetString("learn")
		in.SkillsToLearn = skillswap.ParseSkillNames(raw)
	}
	if flags.Changed("format") {
		raw, _ := flags.GetString("format")
		in.LearningFormat = skillswap.LearningFormat(strings.ToLower(strings.TrimSpace(raw)))
	}
	if flags.Changed("location") {
		in.Location, _ = flags.GetString("location")
	}
}

func readOfferFile(path string) (skillswap.OfferInput, error) {
	var in skillswap.OfferInput
	data, err := os.ReadFile(path)
	if err != nil {
		return in, fmt.Errorf("cannot read offer file: %w", err)
	}
	if err := yaml.Unmarshal(data, &in); err != nil {
		return in, fmt.Errorf("cannot parse offer file: %w", err)
	}
	return in, nil
}

// saveSnapshot stores offers for offline search. Failures only log.
func saveSnapshot(offers []skillswap.Offer) {
	cache, err := openOfferCache()
	if err != nil {
		logger.Debug("offer cache unavailable", "error", err)
		return
	}
	defer cache.Close()
	if err := cache.SaveOffers(offers); err != nil {
		logger.Debug("failed to save offer snapshot", "error", err)
	}
}

func searchSnapshot(query string, mode skillswap.SearchMode) ([]skillswap.Offer, error) {
	cache, err := openOfferCache()
	if err != nil {
		return nil, err
	}
	defer cache.Close()

	offers, savedAt, err := cache.LoadOffers()
	if err != nil {
		return nil, fmt.Errorf("failed to read offer cache: %w", err)
	}
	if savedAt.IsZero() {
		return nil, fmt.Errorf("backend unreachable and no cached offers. Run 'skillswap offers list' while online first")
	}
	fmt.Fprintf(os.Stderr, "Backend unreachable, searching offers cached at %s\n", formatTime(savedAt))
	return skillswap.NewMatcher().Filter(offers, query, mode), nil
}

func printOfferList(offers []skillswap.Offer) {
	if len(offers) == 0 {
		fmt.Println("No offers found.")
		return
	}
	for _, o := range offers {
		fmt.Printf("%-6s %-40s %s\n", o.ID, truncate(o.Title, 40), o.UserName)
		fmt.Printf("       teaches: %s | learns: %s\n",
			valueOrDefault(strings.Join(o.SkillsToTeach, ", "), "-"),
			valueOrDefault(strings.Join(o.SkillsToLearn, ", "), "-"))
	}
}

func printOffer(o skillswap.Offer) {
	fmt.Printf("  ID:          %s\n", o.ID)
	fmt.Printf("  Title:       %s\n", o.Title)
	fmt.Printf("  Author:      %s (id %s)\n", o.UserName, o.UserID)
	fmt.Printf("  Teaches:     %s\n", valueOrDefault(strings.Join(o.SkillsToTeach, ", "), "-"))
	fmt.Printf("  Learns:      %s\n", valueOrDefault(strings.Join(o.SkillsToLearn, ", "), "-"))
	fmt.Printf("  Format:      %s\n", o.LearningFormat)
	fmt.Printf("  Location:    %s\n", valueOrDefault(o.Location, "-"))
	fmt.Printf("  Created:     %s\n", formatTime(o.CreatedAt))
	if o.Description != "" {
		fmt.Println()
		fmt.Println(o.Description)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
