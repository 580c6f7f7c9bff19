// Package gate decides whether two parties may share a call room.
package gate

import (
	"context"
	"errors"

	"github.com/mossy-p/sessionlink/internal/apperr"
	"github.com/mossy-p/sessionlink/internal/models"
	"github.com/mossy-p/sessionlink/internal/store"
)

// Store is what the gate reads.
type Store interface {
	store.Parties
	store.Relationships
}

// Pair is an authorized caller and partner.
type Pair struct {
	Caller  models.Party
	Partner models.Party
}

type Gate struct {
	store Store
}

func New(s Store) *Gate {
	return &Gate{store: s}
}

// AuthorizePair succeeds only when caller and partner are distinct existing parties
// with an approved relationship. It never writes.
func (g *Gate) AuthorizePair(ctx context.Context, callerID, partnerID string) (Pair, error) {
	if partnerID == "" {
		return Pair{}, apperr.BadRequest("partnerId is required")
	}
	if callerID == partnerID {
		return Pair{}, apperr.ErrSelfCall
	}

	caller, err := g.store.GetParty(ctx, callerID)
	if err != nil {
		return Pair{}, lookupErr(err, apperr.ErrPartyNotFound)
	}
	partner, err := g.store.GetParty(ctx, partnerID)
	if err != nil {
		return Pair{}, lookupErr(err, apperr.ErrPartnerNotFound)
	}

	rel, err := g.store.FindRelationship(ctx, callerID, partnerID)
	if err != nil {
		return Pair{}, lookupErr(err, apperr.ErrNotConnected)
	}
	if !rel.Status.IsApproved() {
		return Pair{}, apperr.ErrNotApproved
	}

	return Pair{Caller: caller, Partner: partner}, nil
}

func lookupErr(err error, notFound *apperr.Error) error {
	if errors.Is(err, store.ErrNotFound) {
		return notFound
	}
	return apperr.Unavailable(err)
}
