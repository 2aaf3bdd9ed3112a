package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	skillswap "github.com/skillswap-app/skillswap-go"
	"github.com/spf13/cobra"
)

func init() {
	chatsSendCmd.Flags().String("image", "", "Path of an image to attach")
	chatsWatchCmd.Flags().Bool("ws", false, "Use the WebSocket endpoint instead of SSE")

	rootCmd.AddCommand(chatsCmd)
	chatsCmd.AddCommand(chatsListCmd)
	chatsCmd.AddCommand(chatsOpenCmd)
	chatsCmd.AddCommand(chatsStartCmd)
	chatsCmd.AddCommand(chatsSendCmd)
	chatsCmd.AddCommand(chatsDeleteCmd)
	chatsCmd.AddCommand(chatsWatchCmd)
}

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "Talk to other members",
}

var chatsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your chats, most recent first",
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
		if err := coord.LoadChats(ctx); err != nil {
			return fmt.Errorf("failed to load chats: %w", err)
		}
		chats := coord.MyChats()
		return printOutput(chats, func() {
			if len(chats) == 0 {
				fmt.Println("No chats yet. Start one with 'skillswap chats start <user-id>'.")
				return
			}
			for _, ch := range chats {
				unread := ""
				if ch.UnreadCount > 0 {
					unread = fmt.Sprintf(" (%d unread)", ch.UnreadCount)
				}
				fmt.Printf("%-6s %s%s\n", ch.ID, ch.ParticipantName, unread)
				fmt.Printf("       %s  %s\n", formatTime(ch.Timestamp), truncate(ch.LastMessage, 60))
			}
		})
	},
}

var chatsOpenCmd = &cobra.Command{
	Use:   "open <chat-id>",
	Short: "Show a chat's messages",
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
		chat, err := coord.LoadChat(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to load chat: %w", err)
		}
		coord.MarkAsRead(chat.ID)
		return printOutput(chat, func() { printChat(*chat) })
	},
}

var chatsStartCmd = &cobra.Command{
	Use:   "start <user-id>",
	Short: "Open a chat with a member, reusing an existing one",
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
		if err := coord.LoadChats(ctx); err != nil {
			return fmt.Errorf("failed to load chats: %w", err)
		}
		id, err := coord.CreateChat(ctx, args[0])
		if id == "" {
			return fmt.Errorf("failed to start chat: %w", err)
		}
		if err != nil {
			logger.Warn("chat created but the list could not be reloaded", "error", err)
		}
		return printOutput(map[string]string{"chatId": id}, func() {
			fmt.Printf("Chat %s is ready. Send with 'skillswap chats send %s <text>'.\n", id, id)
		})
	},
}

var chatsSendCmd = &cobra.Command{
	Use:   "send <chat-id> <text>",
	Short: "Send a message, optionally with an image",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadEffectiveConfig()
		if err != nil {
			return err
		}
		var image *skillswap.Attachment
		if path, _ := cmd.Flags().GetString("image"); path != "" {
			if image, err = readAttachment(path); err != nil {
				return err
			}
		}

		ctx, cancel := commandContext(cfg)
		defer cancel()

		coord, err := newCoordinator(ctx, cfg, true)
		if err != nil {
			return err
		}
		if err := coord.SendMessage(ctx, args[0], args[1], image); err != nil {
			return fmt.Errorf("failed to send message: %w", err)
		}
		fmt.Println("Message sent.")
		return nil
	},
}

var chatsDeleteCmd = &cobra.Command{
	Use:   "delete <chat-id>",
	Short: "Delete a chat",
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
		if err := coord.DeleteChat(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to delete chat: %w", err)
		}
		fmt.Printf("Chat %s deleted.\n", args[0])
		return nil
	},
}

var chatsWatchCmd = &cobra.Command{
	Use:   "watch <chat-id>",
	Short: "Follow a chat live until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadEffectiveConfig()
		if err != nil {
			return err
		}
		useWS, _ := cmd.Flags().GetBool("ws")
		chatID := args[0]

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		setupCtx, cancel := commandContext(cfg)
		defer cancel()
		coord, err := newCoordinator(setupCtx, cfg, true)
		if err != nil {
			return err
		}
		chat, err := coord.LoadChat(setupCtx, chatID)
		if err != nil {
			return fmt.Errorf("failed to load chat: %w", err)
		}
		printChat(*chat)

		seen := make(map[string]bool, len(chat.Messages))
		for _, m := range chat.Messages {
			seen[m.ID] = true
		}
		updates := make(chan skillswap.Chat, 1)
		unsubscribe := coord.SubscribeChats(func(chats []skillswap.Chat) {
			for _, ch := range chats {
				if ch.ID != chatID {
					continue
				}
				// Keep only the newest copy pending.
				select {
				case <-updates:
				default:
				}
				select {
				case updates <- ch:
				default:
				}
			}
		})
		defer unsubscribe()

		var sub skillswap.ChatSubscriber
		if useWS {
			sub = coord.Client().Realtime.WS(chatID, nil)
		} else {
			sub = coord.Client().Realtime.SSE(chatID, nil)
		}
		if err := coord.Watch(ctx, sub); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		defer sub.Close()
		fmt.Fprintf(os.Stderr, "Watching %s. Press Ctrl+C to stop.\n", sub.Channel())

		for {
			select {
			case <-ctx.Done():
				return nil
			case ch := <-updates:
				for _, m := range ch.Messages {
					if !seen[m.ID] {
						seen[m.ID] = true
						printMessage(ch, m)
					}
				}
			}
		}
	},
}

func printChat(ch skillswap.Chat) {
	fmt.Printf("Chat %s with %s\n", ch.ID, ch.ParticipantName)
	fmt.Println()
	if len(ch.Messages) == 0 {
		fmt.Println("  (no messages)")
		return
	}
	for _, m := range ch.Messages {
		printMessage(ch, m)
	}
}

func printMessage(ch skillswap.Chat, m skillswap.Message) {
	author := ch.ParticipantName
	if m.IsMine() {
		author = "you"
	}
	fmt.Printf("  [%s] %s: %s\n", formatTime(m.Timestamp), author, m.Text)
	if m.Image != "" {
		fmt.Printf("           image: %s\n", m.Image)
	}
}
