package main

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	"solfind/services/submissions"
)

func (c *cli) runSubmit(ctx context.Context, args []string) int {
	fs := newFlagSet("submit", c.stderr)
	var (
		reportRaw   string
		contact     string
		name        string
		description string
		userID      string
		imagePath   string
	)
	fs.StringVar(&reportRaw, "report", "", "report address")
	fs.StringVar(&contact, "contact", "", "contact number the reporter can reach you on")
	fs.StringVar(&name, "name", "", "your name")
	fs.StringVar(&description, "description", "", "where and how the item was found")
	fs.StringVar(&userID, "user-id", "", "optional account identifier")
	fs.StringVar(&imagePath, "image", "", "optional photo of the item")
	if !c.parseFlags(fs, args) {
		return 1
	}
	report, err := parseAddressFlag("report", reportRaw)
	if err != nil {
		return c.usageError(err.Error())
	}
	var image *submissions.Image
	if imagePath != "" {
		if image, err = readImage(imagePath); err != nil {
			return c.fail(err)
		}
	}
	key, err := c.loadKey()
	if err != nil {
		return c.fail(err)
	}
	stack, err := c.openStack(ctx, image == nil)
	if err != nil {
		return c.fail(err)
	}
	defer stack.Close()

	sub, err := stack.Listings.Submit(ctx, submissions.SubmitRequest{
		ReportAddress: report.String(),
		FinderAddress: key.PublicKey().String(),
		ContactNo:     contact,
		Name:          name,
		Description:   description,
		UserID:        userID,
		Image:         image,
	})
	if err != nil {
		return c.fail(err)
	}
	return c.writeJSON(sub)
}

func (c *cli) runApprove(ctx context.Context, args []string) int {
	return c.ownedSubmission(ctx, "approve", args, func(listings *submissions.Service, reporter solana.PublicKey, id uuid.UUID) (any, error) {
		return listings.Approve(ctx, reporter, id)
	})
}

func (c *cli) runRemove(ctx context.Context, args []string) int {
	return c.ownedSubmission(ctx, "remove", args, func(listings *submissions.Service, reporter solana.PublicKey, id uuid.UUID) (any, error) {
		if err := listings.Remove(ctx, reporter, id); err != nil {
			return nil, err
		}
		return map[string]any{"id": id.String(), "removed": true}, nil
	})
}

// ownedSubmission runs a reporter-only action on the submission named by
// --id, acting as the configured wallet.
func (c *cli) ownedSubmission(ctx context.Context, name string, args []string, action func(*submissions.Service, solana.PublicKey, uuid.UUID) (any, error)) int {
	fs := newFlagSet(name, c.stderr)
	var idRaw string
	fs.StringVar(&idRaw, "id", "", "submission id")
	if !c.parseFlags(fs, args) {
		return 1
	}
	if idRaw == "" {
		return c.usageError("--id is required")
	}
	id, err := uuid.Parse(idRaw)
	if err != nil {
		return c.usageError(fmt.Sprintf("--id: %v", err))
	}
	key, err := c.loadKey()
	if err != nil {
		return c.fail(err)
	}
	stack, err := c.openStack(ctx, true)
	if err != nil {
		return c.fail(err)
	}
	defer stack.Close()
	out, err := action(stack.Listings, key.PublicKey(), id)
	if err != nil {
		return c.fail(err)
	}
	return c.writeJSON(out)
}

func (c *cli) runSubmissions(ctx context.Context, args []string) int {
	fs := newFlagSet("submissions", c.stderr)
	var reportRaw string
	fs.StringVar(&reportRaw, "report", "", "report address")
	if !c.parseFlags(fs, args) {
		return 1
	}
	report, err := parseAddressFlag("report", reportRaw)
	if err != nil {
		return c.usageError(err.Error())
	}
	key, err := c.loadKey()
	if err != nil {
		return c.fail(err)
	}
	stack, err := c.openStack(ctx, true)
	if err != nil {
		return c.fail(err)
	}
	defer stack.Close()
	subs, err := stack.Listings.ListSubmissions(ctx, key.PublicKey(), report.String())
	if err != nil {
		return c.fail(err)
	}
	if subs == nil {
		subs = []submissions.Submission{}
	}
	return c.writeJSON(subs)
}
