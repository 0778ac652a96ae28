package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"iter"

	"github.com/spf13/cobra"

	"github.com/luciancaetano/kephasgate/entity"
	"github.com/luciancaetano/kephasgate/gate"
)

func newMessagesCmd(a *app) *cobra.Command {
	var before, after, around string
	var limit int
	var all bool

	cmd := &cobra.Command{
		Use:   "messages CHANNEL_ID",
		Short: "Print the history of a channel as JSON lines",
		Long:  "messages pages through a channel over REST, youngest first unless --after is given.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			channelID, err := entity.ParseID(args[0])
			if err != nil {
				return fmt.Errorf("invalid channel id %q", args[0])
			}
			if countSet(before, after, around) > 1 {
				return errors.New("use at most one of --before, --after and --around")
			}
			if all {
				limit = gate.Unlimited
			}
			if limit <= 0 {
				return fmt.Errorf("invalid limit %d", limit)
			}

			cfg, err := a.config()
			if err != nil {
				return err
			}
			logger, err := a.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			gcfg, err := clientConfig(cfg, logger)
			if err != nil {
				return err
			}
			client, err := gate.New(gcfg)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			var (
				seq   iter.Seq2[entity.Message, error]
				pgErr error
			)
			switch {
			case after != "":
				id, err := entity.ParseID(after)
				if err != nil {
					return fmt.Errorf("invalid --after %q", after)
				}
				seq, pgErr = client.MessagesAfter(ctx, channelID, id, limit)
			case around != "":
				id, err := entity.ParseID(around)
				if err != nil {
					return fmt.Errorf("invalid --around %q", around)
				}
				seq, pgErr = client.MessagesAround(ctx, channelID, id, limit)
			default:
				id := entity.MaxID
				if before != "" {
					if id, err = entity.ParseID(before); err != nil {
						return fmt.Errorf("invalid --before %q", before)
					}
				}
				seq, pgErr = client.MessagesBefore(ctx, channelID, id, limit)
			}
			if pgErr != nil {
				return pgErr
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			for msg, err := range seq {
				if err != nil {
					return err
				}
				if err := enc.Encode(msg); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&before, "before", "", "start below this message id")
	cmd.Flags().StringVar(&after, "after", "", "start above this message id")
	cmd.Flags().StringVar(&around, "around", "", "read one page centred on this message id")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of messages")
	cmd.Flags().BoolVar(&all, "all", false, "read the whole history, ignoring --limit")
	return cmd
}

func countSet(values ...string) int {
	n := 0
	for _, v := range values {
		if v != "" {
			n++
		}
	}
	return n
}
