package reconcile

import (
	"context"
	"fmt"
	"log"

	"harvestsync/internal/domain/mapping"
	"harvestsync/internal/infrastructure/harvest"
	"harvestsync/internal/infrastructure/monday"
)

// ReconcileClient links the item to a ledger client, updating the client
// when the link already exists.
func (s *Service) ReconcileClient(ctx context.Context, c Caller, in ClientInput) (*Outcome, error) {
	m := s.msgs.ClientFailed
	name := in.Client.String("name")
	if name == "" {
		return nil, invalid(s.msgs.ClientNameMissing)
	}
	ctx = ledgerContext(ctx, c)

	link, err := s.links.FindLink(ctx, mapping.KindClient, c.AccountID, in.BoardID.String(), in.ItemID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to find client link: %w", err)
	}
	if link != nil {
		if _, err := s.ledger.UpdateClient(ctx, c.LedgerToken, link.LedgerID, in.Client.payload()); err != nil {
			return nil, failure(m, err)
		}
		log.Printf("Account %s: updated client %s from item %s", c.AccountID, link.LedgerID, in.ItemID)
		return &Outcome{Message: "Successfully updated client"}, nil
	}

	existing, err := s.findClientByName(ctx, c.LedgerToken, name)
	if err != nil {
		return nil, failure(m, err)
	}
	if existing != nil {
		if err := s.linkItem(ctx, mapping.KindClient, c.AccountID, in.BoardID.String(), in.ItemID.String(), existing.ID.String()); err != nil {
			return nil, err
		}
		log.Printf("Account %s: synced item %s with existing client %s", c.AccountID, in.ItemID, existing.ID)
		return &Outcome{Message: "Successfully synced client"}, nil
	}

	created, synced, err := s.createClient(ctx, c.LedgerToken, name, in.Client.payload())
	if err != nil {
		return nil, failure(m, err)
	}
	if err := s.linkItem(ctx, mapping.KindClient, c.AccountID, in.BoardID.String(), in.ItemID.String(), created.ID.String()); err != nil {
		return nil, err
	}
	if synced {
		return &Outcome{Message: "Successfully synced client"}, nil
	}
	log.Printf("Account %s: created client %s from item %s", c.AccountID, created.ID, in.ItemID)
	return &Outcome{Message: "Successfully created a new client"}, nil
}

// createClient creates the client. When the ledger reports the name as
// taken the existing client is returned with synced set.
func (s *Service) createClient(ctx context.Context, token, name string, payload map[string]any) (client *harvest.Client, synced bool, err error) {
	created, err := s.ledger.CreateClient(ctx, token, payload)
	if err == nil {
		return created, false, nil
	}
	if !harvest.IsDuplicateName(err) {
		return nil, false, err
	}

	existing, findErr := s.findClientByName(ctx, token, name)
	if findErr != nil {
		return nil, false, findErr
	}
	if existing == nil {
		return nil, false, err
	}
	return existing, true, nil
}

func (s *Service) linkItem(ctx context.Context, kind mapping.Kind, accountID, boardID, itemID, ledgerID string) error {
	_, err := s.links.CreateLink(ctx, kind, mapping.CreateLinkParams{
		AccountID: accountID,
		BoardID:   boardID,
		ItemID:    itemID,
		LedgerID:  ledgerID,
	})
	if err != nil {
		return fmt.Errorf("failed to link %s item %s: %w", kind, itemID, err)
	}
	return nil
}

// resolveClientByName returns the ledger id of the client called name,
// creating it when no client matches. The client is linked to the given
// board item unless that item already carries a client link.
func (s *Service) resolveClientByName(ctx context.Context, c Caller, name, boardID, itemID string) (string, error) {
	existing, err := s.findClientByName(ctx, c.LedgerToken, name)
	if err != nil {
		return "", failure(s.msgs.ProjectFailed, err)
	}
	if existing == nil {
		existing, _, err = s.createClient(ctx, c.LedgerToken, name, map[string]any{"name": name})
		if err != nil {
			return "", failure(s.msgs.ProjectFailed, err)
		}
		log.Printf("Account %s: created client %s (%q)", c.AccountID, existing.ID, name)
	}

	if err := s.linkItem(ctx, mapping.KindClient, c.AccountID, boardID, itemID, existing.ID.String()); err != nil {
		return "", err
	}
	return existing.ID.String(), nil
}

// resolveConnectedClient resolves the client behind the first item of the
// board-relation column. The client link belongs to the connected item.
func (s *Service) resolveConnectedClient(ctx context.Context, c Caller, linked *monday.LinkedItem) (string, error) {
	link, err := s.links.FindLinkByItem(ctx, mapping.KindClient, c.AccountID, linked.ID.String())
	if err != nil {
		return "", fmt.Errorf("failed to find client link: %w", err)
	}
	if link != nil {
		return link.LedgerID, nil
	}

	if linked.Name == "" {
		return "", invalid(s.msgs.ProjectClientNameMissing)
	}
	return s.resolveClientByName(ctx, c, linked.Name, linked.Board.ID.String(), linked.ID.String())
}
