// Package emails discovers contact addresses for journalists that have none.
package emails

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/pressroom/internal/cache"
	"github.com/JakeFAU/pressroom/internal/core"
	"github.com/JakeFAU/pressroom/internal/events"
)

// Resolver looks up mail exchangers. *net.Resolver satisfies it.
type Resolver interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
}

// Finder asks a third party for a person's address. An empty result means
// the finder has nothing.
type Finder interface {
	Find(ctx context.Context, domain, first, last string) (string, error)
}

// Store is the persistence the Guesser needs.
type Store interface {
	FindJournalistsWithoutEmail(ctx context.Context, limit int) ([]core.Journalist, error)
	GetSource(ctx context.Context, id int64) (core.Source, error)
	SetEmail(ctx context.Context, id int64, email string, status core.EmailStatus) error
}

// Result summarizes a Run.
type Result struct {
	Checked    int
	Guessed    int
	ThirdParty int
	Skipped    int
	Conflicts  int
}

// Guesser assigns guessed addresses to journalists.
type Guesser struct {
	store    Store
	resolver Resolver
	finder   Finder
	failed   cache.FailedDomains
	bus      events.Publisher
	logger   *zap.Logger
}

// New builds a Guesser. finder may be nil, in which case only the
// first.last pattern is used.
func New(store Store, resolver Resolver, finder Finder, failed cache.FailedDomains, bus events.Publisher, logger *zap.Logger) *Guesser {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &Guesser{
		store:    store,
		resolver: resolver,
		finder:   finder,
		failed:   failed,
		bus:      bus,
		logger:   logger.Named("emails"),
	}
}

// Run processes up to limit journalists without an email.
func (g *Guesser) Run(ctx context.Context, limit int) (Result, error) {
	var res Result
	journalists, err := g.store.FindJournalistsWithoutEmail(ctx, limit)
	if err != nil {
		return res, fmt.Errorf("find journalists without email: %w", err)
	}
	domains := make(map[int64]string)
	for _, j := range journalists {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Checked++
		email, status, err := g.guess(ctx, j, domains)
		if err != nil {
			return res, err
		}
		if email == "" {
			res.Skipped++
			continue
		}
		if err := g.store.SetEmail(ctx, j.ID, email, status); err != nil {
			if errors.Is(err, core.ErrAlreadyExists) {
				g.logger.Info("email already assigned elsewhere",
					zap.Int64("journalist_id", j.ID), zap.String("email", email))
				res.Conflicts++
				continue
			}
			return res, fmt.Errorf("set email for journalist %d: %w", j.ID, err)
		}
		if status == core.EmailStatusGuessedByThirdParty {
			res.ThirdParty++
		} else {
			res.Guessed++
		}
		if g.bus != nil {
			if err := g.bus.Publish(ctx, events.JournalistChanged{JournalistID: j.ID}); err != nil {
				g.logger.Warn("publish journalist changed", zap.Int64("journalist_id", j.ID), zap.Error(err))
			}
		}
	}
	g.logger.Info("email guessing finished",
		zap.Int("checked", res.Checked),
		zap.Int("guessed", res.Guessed),
		zap.Int("third_party", res.ThirdParty),
		zap.Int("skipped", res.Skipped),
		zap.Int("conflicts", res.Conflicts))
	return res, nil
}

// guess returns "" when no address could be produced for j. Only store and
// context errors are returned.
func (g *Guesser) guess(ctx context.Context, j core.Journalist, domains map[int64]string) (string, core.EmailStatus, error) {
	first, last, ok := SplitName(j.Name)
	if !ok {
		return "", core.EmailStatusNone, nil
	}
	domain, err := g.domainFor(ctx, j, domains)
	if err != nil || domain == "" {
		return "", core.EmailStatusNone, err
	}
	if g.finder != nil {
		found, err := g.finder.Find(ctx, domain, first, last)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return "", core.EmailStatusNone, ctx.Err()
			}
			g.logger.Warn("third-party lookup failed", zap.String("domain", domain), zap.Error(err))
		case found != "":
			return found, core.EmailStatusGuessedByThirdParty, nil
		}
	}
	return Pattern(first, last, domain), core.EmailStatusGuessed, nil
}

// domainFor resolves the publication domain of the journalist's first source
// and checks it accepts mail. Results are memoized per source for the run.
func (g *Guesser) domainFor(ctx context.Context, j core.Journalist, domains map[int64]string) (string, error) {
	if len(j.SourceIDs) == 0 {
		return "", nil
	}
	sourceID := j.SourceIDs[0]
	if d, ok := domains[sourceID]; ok {
		return d, nil
	}
	src, err := g.store.GetSource(ctx, sourceID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("get source %d: %w", sourceID, err)
	}
	domain := core.Hostname(src.URL)
	if domain == "" {
		domains[sourceID] = ""
		return "", nil
	}
	if g.failed != nil {
		failing, err := g.failed.IsFailed(ctx, domain)
		if err != nil {
			g.logger.Warn("failed-domain lookup", zap.String("domain", domain), zap.Error(err))
		}
		if failing {
			domains[sourceID] = ""
			return "", nil
		}
	}
	mx, err := g.resolver.LookupMX(ctx, domain)
	if err != nil || len(mx) == 0 {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		g.logger.Info("domain has no mail exchanger", zap.String("domain", domain), zap.Error(err))
		if g.failed != nil {
			if markErr := g.failed.MarkFailed(ctx, domain); markErr != nil {
				g.logger.Warn("mark domain failed", zap.String("domain", domain), zap.Error(markErr))
			}
		}
		domains[sourceID] = ""
		return "", nil
	}
	domains[sourceID] = domain
	return domain, nil
}

// SplitName returns the lowercase ASCII first and last name parts. Names
// with a single part are rejected.
func SplitName(name string) (string, string, bool) {
	fields := strings.Fields(name)
	if len(fields) < 2 {
		return "", "", false
	}
	first := localPart(fields[0])
	last := localPart(fields[len(fields)-1])
	if first == "" || last == "" {
		return "", "", false
	}
	return first, last, true
}

// Pattern builds first.last@domain.
func Pattern(first, last, domain string) string {
	return first + "." + last + "@" + strings.ToLower(domain)
}

func localPart(s string) string {
	return strings.ReplaceAll(core.Slugify(s), "-", "")
}
