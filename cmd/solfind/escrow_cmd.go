package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gagliardetto/solana-go"

	"solfind/client"
	coreerrors "solfind/core/errors"
	"solfind/core/txbuilder"
	"solfind/core/types"
	"solfind/ledger"
	"solfind/native/escrow"
	"solfind/services/submissions"
	"solfind/wallet"
)

// minReward is the smallest reward accepted without --allow-small.
const minReward = types.LamportsPerSOL / 10

type attemptView struct {
	Report    string `json:"report"`
	Escrow    string `json:"escrow"`
	ReportID  string `json:"reportId,omitempty"`
	RewardSol string `json:"rewardSol,omitempty"`
	Finder    string `json:"finder,omitempty"`
	Signature string `json:"signature"`
	Listing   string `json:"listing,omitempty"`
}

func (c *cli) runCreate(ctx context.Context, args []string) int {
	fs := newFlagSet("create", c.stderr)
	var (
		reportID    string
		reward      string
		allowSmall  bool
		kind        string
		name        string
		description string
		imagePath   string
	)
	fs.StringVar(&reportID, "report-id", "", "reporter's identifier for the item (letters, digits, - and _)")
	fs.StringVar(&reward, "reward", "", "reward in SOL")
	fs.BoolVar(&allowSmall, "allow-small", false, "accept rewards below 0.1 SOL")
	fs.StringVar(&kind, "type", "", "listing category")
	fs.StringVar(&name, "name", "", "listing title")
	fs.StringVar(&description, "description", "", "listing description")
	fs.StringVar(&imagePath, "image", "", "optional image file")
	if !c.parseFlags(fs, args) {
		return 1
	}
	if reportID == "" {
		return c.usageError("--report-id is required")
	}
	if reward == "" {
		return c.usageError("--reward is required")
	}
	lamports, err := types.ParseSOL(reward)
	if err != nil {
		return c.usageError(err.Error())
	}
	if lamports < minReward && !allowSmall {
		return c.usageError(fmt.Sprintf("--reward must be at least %s SOL (pass --allow-small to override)", types.FormatSOL(minReward)))
	}
	var image *submissions.Image
	if imagePath != "" {
		if image, err = readImage(imagePath); err != nil {
			return c.fail(err)
		}
	}

	stack, err := c.openStack(ctx, image == nil)
	if err != nil {
		return c.fail(err)
	}
	defer stack.Close()
	session, err := c.connect(ctx)
	if err != nil {
		return c.fail(err)
	}
	defer session.Close(ctx)

	var planned bool
	res, err := stack.Orchestrator.Create(ctx, session, client.CreateRequest{
		ReportID:     reportID,
		RewardAmount: lamports,
		OnPlanned: func(ctx context.Context, plan *txbuilder.Plan) error {
			_, err := stack.Listings.PlanReport(ctx, submissions.PlanRequest{
				Report:         plan.Report,
				Escrow:         plan.Escrow,
				Reporter:       plan.Reporter,
				ReportID:       plan.ReportID,
				RewardLamports: plan.Reward,
				Type:           kind,
				Name:           name,
				Description:    description,
				Image:          image,
			})
			planned = err == nil
			return err
		},
	})
	if err != nil {
		// Only a refused signature or a rejected build proves nothing was
		// sent. Anything else may have landed; leave it pending for reconcile.
		kind := coreerrors.KindOf(err)
		if planned && res != nil && res.Attempt.Signature == (solana.Signature{}) &&
			(kind == coreerrors.KindSigningRejected || kind == coreerrors.KindValidation) {
			if _, abandonErr := stack.Listings.AbandonReport(context.WithoutCancel(ctx), res.Attempt.Report.String()); abandonErr != nil {
				c.logger.Warn("abandon listing", "report", res.Attempt.Report.String(), "error", abandonErr)
			}
		}
		return c.fail(err)
	}
	view := attemptView{
		Report:    res.Attempt.Report.String(),
		Escrow:    res.Attempt.Escrow.String(),
		ReportID:  res.ReportID,
		RewardSol: types.FormatSOL(res.Reward),
		Signature: res.Attempt.Signature.String(),
	}
	listing, err := confirmListing(stack.Listings, ctx, view.Report, view.Signature)
	if err != nil {
		fmt.Fprintf(c.stderr, "Warning: escrow funded but listing not confirmed (%v); reconcile will repair it\n", err)
		return c.writeJSON(view)
	}
	view.Listing = string(listing.Status)
	return c.writeJSON(view)
}

func (c *cli) runRelease(ctx context.Context, args []string) int {
	fs := newFlagSet("release", c.stderr)
	var reportRaw, finderRaw string
	fs.StringVar(&reportRaw, "report", "", "report address")
	fs.StringVar(&finderRaw, "finder", "", "finder address to pay")
	if !c.parseFlags(fs, args) {
		return 1
	}
	report, err := parseAddressFlag("report", reportRaw)
	if err != nil {
		return c.usageError(err.Error())
	}
	finder, err := parseAddressFlag("finder", finderRaw)
	if err != nil {
		return c.usageError(err.Error())
	}
	return c.settle(ctx, report, submissions.ListingReleased, func(orch *client.Orchestrator, session *wallet.Session) (*client.Result, error) {
		return orch.Release(ctx, session, report, finder)
	})
}

func (c *cli) runCancel(ctx context.Context, args []string) int {
	fs := newFlagSet("cancel", c.stderr)
	var reportRaw string
	fs.StringVar(&reportRaw, "report", "", "report address")
	if !c.parseFlags(fs, args) {
		return 1
	}
	report, err := parseAddressFlag("report", reportRaw)
	if err != nil {
		return c.usageError(err.Error())
	}
	return c.settle(ctx, report, submissions.ListingCanceled, func(orch *client.Orchestrator, session *wallet.Session) (*client.Result, error) {
		return orch.Cancel(ctx, session, report)
	})
}

// settle runs a terminal transition and records it on the listing. The
// chain is authoritative: a listing that cannot be updated is reported but
// does not fail the command.
func (c *cli) settle(ctx context.Context, report solana.PublicKey, outcome submissions.ListingStatus, send func(*client.Orchestrator, *wallet.Session) (*client.Result, error)) int {
	stack, err := c.openStack(ctx, true)
	if err != nil {
		return c.fail(err)
	}
	defer stack.Close()
	session, err := c.connect(ctx)
	if err != nil {
		return c.fail(err)
	}
	defer session.Close(ctx)

	res, err := send(stack.Orchestrator, session)
	if err != nil {
		return c.fail(err)
	}
	view := attemptView{
		Report:    res.Attempt.Report.String(),
		Escrow:    res.Attempt.Escrow.String(),
		Signature: res.Attempt.Signature.String(),
	}
	var finder string
	if outcome == submissions.ListingReleased {
		finder = res.Attempt.Finder.String()
		view.Finder = finder
	}
	listing, err := stack.Listings.SettleReport(ctx, report.String(), outcome, finder, view.Signature)
	switch {
	case errors.Is(err, submissions.ErrListingNotFound):
		fmt.Fprintf(c.stderr, "Warning: no listing for %s; only the chain was updated\n", report)
	case err != nil:
		fmt.Fprintf(c.stderr, "Warning: listing not updated (%v); reconcile will repair it\n", err)
	default:
		view.Listing = string(listing.Status)
	}
	return c.writeJSON(view)
}

type statusView struct {
	Report  string               `json:"report"`
	Listing *submissions.Listing `json:"listing"`
	OnChain *chainStatusView     `json:"onChain"`
}

type chainStatusView struct {
	Status        string `json:"status"`
	Reporter      string `json:"reporter"`
	Finder        string `json:"finder,omitempty"`
	ReportID      string `json:"reportId"`
	RewardSol     string `json:"rewardSol"`
	Escrow        string `json:"escrow"`
	EscrowBalance string `json:"escrowBalanceSol"`
}

func (c *cli) runStatus(ctx context.Context, args []string) int {
	fs := newFlagSet("status", c.stderr)
	var reportRaw string
	fs.StringVar(&reportRaw, "report", "", "report address")
	if !c.parseFlags(fs, args) {
		return 1
	}
	report, err := parseAddressFlag("report", reportRaw)
	if err != nil {
		return c.usageError(err.Error())
	}
	stack, err := c.openStack(ctx, true)
	if err != nil {
		return c.fail(err)
	}
	defer stack.Close()

	view := statusView{Report: report.String()}
	listing, err := stack.Listings.Get(ctx, report.String())
	switch {
	case errors.Is(err, submissions.ErrListingNotFound):
	case err != nil:
		return c.fail(err)
	default:
		view.Listing = listing
	}
	snap, err := stack.Orchestrator.Snapshot(ctx, report)
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound), errors.Is(err, escrow.ErrAccountNotInitialized):
	case err != nil:
		return c.fail(err)
	default:
		chain := &chainStatusView{
			Status:        snap.Report.Status.String(),
			Reporter:      snap.Report.Reporter.String(),
			ReportID:      snap.Report.ReportID,
			RewardSol:     types.FormatSOL(snap.Report.RewardAmount),
			Escrow:        snap.Report.Escrow.String(),
			EscrowBalance: types.FormatSOL(snap.EscrowBalance),
		}
		if snap.Report.Finder != nil {
			chain.Finder = snap.Report.Finder.String()
		}
		view.OnChain = chain
	}
	if view.Listing == nil && view.OnChain == nil {
		return c.usageError(fmt.Sprintf("report %s not found", report))
	}
	return c.writeJSON(view)
}

func readImage(path string) (*submissions.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return &submissions.Image{Name: filepath.Base(path), Data: data}, nil
}
