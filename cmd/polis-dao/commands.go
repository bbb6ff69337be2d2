package main

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/polisai/polis-dao/pkg/config"
	"github.com/polisai/polis-dao/pkg/domain"
	"github.com/polisai/polis-dao/pkg/engine"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the store and seat the council from the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			now, err := a.clock()
			if err != nil {
				return err
			}
			for _, m := range a.cfg.Members() {
				if err := a.engine.JoinCouncil(cmd.Context(), domain.Call{Caller: m.ID, Now: now}, "", m.Name); err != nil {
					return err
				}
			}
			size, err := a.engine.CouncilSize(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{
				"council_size": size,
				"settings":     newSettingsView(a.engine.Settings()),
			})
		},
	}
}

func newCouncilCmd(a *app) *cobra.Command {
	council := &cobra.Command{
		Use:   "council",
		Short: "Inspect or join the council",
	}

	join := &cobra.Command{
		Use:   "join <ticket> <name>",
		Short: "Seat the caller on the council",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			call, err := a.call()
			if err != nil {
				return err
			}
			if err := a.engine.JoinCouncil(cmd.Context(), call, args[0], args[1]); err != nil {
				return err
			}
			return printJSON(cmd, domain.Member{ID: call.Caller, Name: args[1]})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List council members",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			members, err := a.engine.CouncilMembers(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, members)
		},
	}

	council.AddCommand(join, list)
	return council
}

func newProposeCmd(a *app) *cobra.Command {
	var description string
	propose := &cobra.Command{
		Use:   "propose",
		Short: "Open a vote on a proposal",
	}
	propose.PersistentFlags().StringVarP(&description, "description", "d", "", "Proposal description")

	submit := func(cmd *cobra.Command, target string, kind domain.ProposalKind) error {
		call, err := a.call()
		if err != nil {
			return err
		}
		id, err := a.engine.AddProposal(cmd.Context(), call, engine.ProposalInput{
			Target:      domain.Identity(target),
			Description: description,
			Kind:        kind,
		})
		if err != nil {
			return err
		}
		p, err := a.engine.GetProposal(cmd.Context(), id)
		if err != nil {
			return err
		}
		return printJSON(cmd, p)
	}

	var payoutTarget string
	var amount uint64
	payout := &cobra.Command{
		Use:   "payout",
		Short: "Propose a transfer to --target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return submit(cmd, payoutTarget, domain.Payout{Amount: domain.Amount(amount)})
		},
	}
	payout.Flags().StringVar(&payoutTarget, "target", "", "Recipient of the payout")
	payout.Flags().Uint64Var(&amount, "amount", 0, "Amount to transfer")
	_ = payout.MarkFlagRequired("target")
	_ = payout.MarkFlagRequired("amount")

	var removeTarget string
	removeCouncil := &cobra.Command{
		Use:   "remove-council",
		Short: "Propose removing --target from the council",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return submit(cmd, removeTarget, domain.RemoveCouncil{})
		},
	}
	removeCouncil.Flags().StringVar(&removeTarget, "target", "", "Council member to remove")
	_ = removeCouncil.MarkFlagRequired("target")

	var period time.Duration
	changeVotePeriod := &cobra.Command{
		Use:   "change-vote-period",
		Short: "Propose a new vote period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return submit(cmd, "", domain.ChangeVotePeriod{Period: period})
		},
	}
	changeVotePeriod.Flags().DurationVar(&period, "period", 0, "New vote period, e.g. 72h")
	_ = changeVotePeriod.MarkFlagRequired("period")

	var policyJSON, policyFile string
	changePolicy := &cobra.Command{
		Use:   "change-policy",
		Short: "Propose a new voting policy",
		Long: `Propose a new voting policy, given inline as JSON with --policy or as a
YAML file with --policy-file. Each tier is {max_amount, votes}; votes is an
integer for a fixed count or [numerator, denominator] for a council ratio.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			table, err := readPolicy(policyJSON, policyFile)
			if err != nil {
				return err
			}
			return submit(cmd, "", domain.ChangePolicy{Policy: table})
		},
	}
	changePolicy.Flags().StringVar(&policyJSON, "policy", "", `Policy as JSON, e.g. [{"max_amount":0,"votes":[1,2]}]`)
	changePolicy.Flags().StringVar(&policyFile, "policy-file", "", "Path to a YAML policy file")
	changePolicy.MarkFlagsMutuallyExclusive("policy", "policy-file")
	changePolicy.MarkFlagsOneRequired("policy", "policy-file")

	propose.AddCommand(payout, removeCouncil, changeVotePeriod, changePolicy)
	return propose
}

func readPolicy(inline, path string) (domain.PolicyTable, error) {
	var p config.Policy
	if inline != "" {
		if err := p.UnmarshalText([]byte(inline)); err != nil {
			return nil, err
		}
		return domain.PolicyTable(p), nil
	}
	//nolint:gosec // Policy file path is supplied by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}
	return domain.PolicyTable(p), nil
}

func parseProposalID(s string) (domain.ProposalID, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid proposal id %q", domain.ErrInvalidInput, s)
	}
	return domain.ProposalID(id), nil
}

func newVoteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "vote <id> yes|no",
		Short: "Vote on an open proposal",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseProposalID(args[0])
			if err != nil {
				return err
			}
			choice, err := domain.ParseVote(args[1])
			if err != nil {
				return err
			}
			call, err := a.call()
			if err != nil {
				return err
			}
			p, err := a.engine.Vote(cmd.Context(), call, id, choice)
			if err != nil {
				return err
			}
			return printJSON(cmd, p)
		},
	}
}

func newFinalizeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "finalize <id>",
		Short: "Close a proposal whose outcome is decided",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseProposalID(args[0])
			if err != nil {
				return err
			}
			call, err := a.call()
			if err != nil {
				return err
			}
			p, err := a.engine.Finalize(cmd.Context(), call, id)
			if err != nil {
				return err
			}
			return printJSON(cmd, p)
		},
	}
}

func newProposalsCmd(a *app) *cobra.Command {
	proposals := &cobra.Command{
		Use:   "proposals",
		Short: "Query proposals",
	}

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseProposalID(args[0])
			if err != nil {
				return err
			}
			p, err := a.engine.GetProposal(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd, p)
		},
	}

	var statuses []string
	var from, limit uint64
	list := &cobra.Command{
		Use:   "list",
		Short: "List proposals, optionally filtered by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(statuses) == 0 {
				page, err := a.engine.ListProposals(cmd.Context(), from, limit)
				if err != nil {
					return err
				}
				return printJSON(cmd, page)
			}
			filter := make([]domain.ProposalStatus, 0, len(statuses))
			for _, s := range statuses {
				status, err := domain.ParseStatus(s)
				if err != nil {
					return err
				}
				filter = append(filter, status)
			}
			page, err := a.engine.ListProposalsByStatuses(cmd.Context(), filter, from, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, page)
		},
	}
	list.Flags().StringSliceVar(&statuses, "status", nil, "Only proposals in these statuses (vote, delay, success, reject, fail)")
	list.Flags().Uint64Var(&from, "from", 0, "Index of the first proposal to return")
	list.Flags().Uint64Var(&limit, "limit", math.MaxUint64, "Maximum number of proposals to return")

	count := &cobra.Command{
		Use:   "count",
		Short: "Show the number of proposals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := a.engine.NumProposals(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]uint64{"count": n})
		},
	}

	proposals.AddCommand(get, list, count)
	return proposals
}

// settingsView renders durations as strings.
type settingsView struct {
	VotePeriod  string             `json:"vote_period"`
	GracePeriod string             `json:"grace_period"`
	Policy      domain.PolicyTable `json:"policy"`
}

func newSettingsView(s domain.Settings) settingsView {
	return settingsView{
		VotePeriod:  s.VotePeriod.String(),
		GracePeriod: s.GracePeriod.String(),
		Policy:      s.Policy,
	}
}

func newSettingsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "settings",
		Short: "Show the vote period, grace period and policy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printJSON(cmd, newSettingsView(a.engine.Settings()))
		},
	}
}

func newTransfersCmd(a *app) *cobra.Command {
	transfers := &cobra.Command{
		Use:   "transfers",
		Short: "Inspect initiated payouts",
	}
	transfers.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List initiated transfers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := a.engine.Transfers(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, list)
		},
	})
	return transfers
}
