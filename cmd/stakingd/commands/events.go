package commands

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/moltbunker/tierstake/internal/api"
	"github.com/moltbunker/tierstake/internal/staking"
)

// NewEventsCmd pages the audit log or follows the live stream.
func NewEventsCmd() *cobra.Command {
	var from uint64
	var limit int
	var follow bool
	var channels []string
	var mine bool

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show ledger events",
		Long: `Show the ledger's event log. With --follow, stream new events as they
commit. Channels are event kinds (e.g. stake_opened) or user:<address>.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newReadClient()

			if !follow {
				events, err := c.Events(cmdContext(cmd), from, limit)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(events)
				}
				if len(events) == 0 {
					Info("No events.")
					return nil
				}
				rows := make([][]string, 0, len(events))
				for _, ev := range events {
					rows = append(rows, eventRow(ev))
				}
				fmt.Print(RenderTable([]string{"Seq", "Time", "Kind", "Actor", "Details"}, rows))
				return nil
			}

			if mine {
				user, err := resolveAddress(nil)
				if err != nil {
					return err
				}
				channels = append(channels, api.UserChannel(user.Hex()))
			}
			ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt)
			defer stop()

			return c.StreamEvents(ctx, channels, func(ev staking.Event) {
				if jsonOutput() {
					printJSON(ev)
					return
				}
				fmt.Println(strings.Join(eventRow(ev), "  "))
			})
		},
	}

	cmd.Flags().Uint64Var(&from, "from", 0, "First sequence number")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum events to list")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Stream new events")
	cmd.Flags().StringSliceVar(&channels, "channel", nil, "With --follow, only these channels")
	cmd.Flags().BoolVar(&mine, "mine", false, "With --follow, only events about the local wallet")
	return cmd
}

func eventRow(ev staking.Event) []string {
	var details []string
	if ev.User != ev.Actor && ev.User != (common.Address{}) {
		details = append(details, "user="+FormatAddress(ev.User.Hex()))
	}
	if ev.TierID != nil {
		details = append(details, "tier="+strconv.FormatUint(uint64(*ev.TierID), 10))
	}
	if ev.StakeIndex != nil {
		details = append(details, "stake=#"+strconv.Itoa(*ev.StakeIndex))
	}
	if ev.Amount != nil {
		details = append(details, "amount="+FormatTokens(ev.Amount))
	}
	if ev.Reward != nil {
		details = append(details, "reward="+FormatTokens(ev.Reward))
	}
	if ev.Fee != nil {
		details = append(details, "fee="+FormatTokens(ev.Fee))
	}
	if ev.Compounded {
		details = append(details, "compounded")
	}
	if ev.Enabled != nil {
		details = append(details, "enabled="+strconv.FormatBool(*ev.Enabled))
	}
	if ev.Param != "" {
		details = append(details, ev.Param+"="+ev.Value)
	}
	return []string{
		strconv.FormatUint(ev.Seq, 10),
		ev.Time.UTC().Format("2006-01-02 15:04:05"),
		string(ev.Kind),
		FormatAddress(ev.Actor.Hex()),
		strings.Join(details, " "),
	}
}
