package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"secure_drop/internal/service/delivery"

	"github.com/spf13/cobra"
)

func newKeygenCmd(h *runtimeHolder) *cobra.Command {
	return &cobra.Command{
		Use:   "keygen <identity>",
		Short: "Create a key pair for identity unless one exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			created, err := h.rt.Keys.EnsureKeyPair(args[0])
			if err != nil {
				return err
			}
			if created {
				printf(cmd, okColor, "generated key pair for %s in %s", args[0], h.rt.Config.Keys.Dir)
			} else {
				printf(cmd, warnColor, "key pair for %s already exists", args[0])
			}
			return nil
		},
	}
}

func newSendCmd(h *runtimeHolder) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "send <recipient> [message]",
		Short: "Seal a message for recipient, replacing any unread one",
		Long:  "Seal a message for recipient. Without a message argument the text is read from stdin.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := messageText(cmd, args)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("ttl") {
				ttl = h.rt.Config.Delivery.DefaultTTL
			}

			receipt, err := h.rt.Delivery.Send(commandContext(cmd), args[0], text, ttl)
			if err != nil {
				return err
			}
			printf(cmd, okColor, "sent to %s, expires %s", receipt.RecipientID, receipt.ExpiryUTC.Format(time.RFC3339))
			if receipt.Replaced {
				printf(cmd, warnColor, "an unread message was replaced")
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", delivery.DefaultTTL, "how long the message stays readable")
	return cmd
}

func messageText(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 2 {
		if args[1] == "" {
			return "", errors.New("message must not be empty")
		}
		return args[1], nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read message: %w", err)
	}
	text := strings.TrimRight(string(data), "\r\n")
	if text == "" {
		return "", errors.New("message must not be empty")
	}
	return text, nil
}

func newReceiveCmd(h *runtimeHolder) *cobra.Command {
	return &cobra.Command{
		Use:   "receive <identity>",
		Short: "Open and destroy the message waiting for identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			receipt, err := h.rt.Delivery.Receive(commandContext(cmd), args[0])
			if err != nil {
				return err
			}
			switch receipt.Status {
			case delivery.StatusDelivered:
				fmt.Fprintln(cmd.OutOrStdout(), receipt.Plaintext)
			case delivery.StatusExpired:
				printf(cmd, errColor, "message for %s expired", args[0])
			default:
				printf(cmd, warnColor, "no message for %s", args[0])
			}
			return nil
		},
	}
}

func newStatusCmd(h *runtimeHolder) *cobra.Command {
	return &cobra.Command{
		Use:   "status <identity>",
		Short: "Show whether a message is waiting and how long it has left",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := h.rt.Delivery.Inspect(commandContext(cmd), args[0])
			if err != nil {
				return err
			}
			switch st.Status {
			case delivery.StatusPending:
				printf(cmd, okColor, "message waiting for %s, expires in %s", args[0], st.Remaining.Round(time.Second))
			case delivery.StatusExpired:
				printf(cmd, errColor, "message for %s expired", args[0])
			default:
				printf(cmd, warnColor, "no message for %s", args[0])
			}
			return nil
		},
	}
}

func newDiscardCmd(h *runtimeHolder) *cobra.Command {
	return &cobra.Command{
		Use:   "discard <identity>",
		Short: "Delete the message waiting for identity without reading it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := h.rt.Delivery.Discard(commandContext(cmd), args[0]); err != nil {
				return err
			}
			printf(cmd, okColor, "slot for %s is empty", args[0])
			return nil
		},
	}
}

func newWipeCmd(h *runtimeHolder) *cobra.Command {
	return &cobra.Command{
		Use:   "wipe",
		Short: "Delete every stored message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := h.rt.Delivery.Wipe(commandContext(cmd))
			if err != nil {
				return err
			}
			printf(cmd, okColor, "removed %d message(s)", n)
			return nil
		},
	}
}
