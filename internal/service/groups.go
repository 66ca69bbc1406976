package service

import (
	"context"
	"errors"
	"fmt"

	"e2ee-messaging/internal/cryptocore"
	"e2ee-messaging/internal/domain"
	"e2ee-messaging/internal/observability/metrics"
	"e2ee-messaging/internal/store"

	"github.com/google/uuid"
)

// CreateGroup creates version 1 of a group key and grants it to members.
func (s *Service) CreateGroup(ctx context.Context, groupID string, members []uuid.UUID) (uint32, error) {
	if groupID == "" || len(members) == 0 {
		return 0, fmt.Errorf("%w: group id and members are required", ErrInvalidRequest)
	}
	if _, err := s.store.GroupKeys().Latest(ctx, groupID); err == nil {
		return 0, ErrGroupExists
	} else if !errors.Is(err, store.ErrRecordNotFound) {
		return 0, err
	}
	if err := s.createVersion(ctx, groupID, 1, members); err != nil {
		if errors.Is(err, store.ErrStaleSessionState) {
			return 0, ErrGroupExists
		}
		return 0, err
	}
	metrics.GroupKeyRotationsTotal.WithLabelValues("create").Inc()
	s.log.Info("group created", "group_id", groupID, "version", 1, "members", len(members))
	return 1, nil
}

// RotateGroupKey creates the next key version and grants it only to members.
// Earlier versions are kept so history remains readable by those who held
// them; a device left out of members receives nothing from this version on.
func (s *Service) RotateGroupKey(ctx context.Context, groupID string, members []uuid.UUID) (uint32, error) {
	if groupID == "" || len(members) == 0 {
		return 0, fmt.Errorf("%w: group id and remaining members are required", ErrInvalidRequest)
	}
	var version uint32
	err := s.retry(ctx, "group", func() error {
		latest, err := s.store.GroupKeys().Latest(ctx, groupID)
		if err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				return ErrGroupNotFound
			}
			return err
		}
		version = latest.Version + 1
		return s.createVersion(ctx, groupID, version, members)
	})
	if err != nil {
		return 0, err
	}
	metrics.GroupKeyRotationsTotal.WithLabelValues("removal").Inc()
	s.log.Info("group key rotated", "group_id", groupID, "version", version, "members", len(members))
	return version, nil
}

// AddGroupMembers grants the current key version to new members. Older
// versions are not shared with them.
func (s *Service) AddGroupMembers(ctx context.Context, groupID string, members []uuid.UUID) (uint32, error) {
	if groupID == "" || len(members) == 0 {
		return 0, fmt.Errorf("%w: group id and members are required", ErrInvalidRequest)
	}
	latest, err := s.store.GroupKeys().Latest(ctx, groupID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return 0, ErrGroupNotFound
		}
		return 0, err
	}
	key, err := s.openGroupKey(latest)
	if err != nil {
		return 0, err
	}
	grants, err := s.wrapForMembers(ctx, key, members)
	if err != nil {
		return 0, err
	}
	if err := s.store.GroupKeys().AddGrants(ctx, grants); err != nil {
		return 0, err
	}
	metrics.GroupKeyRotationsTotal.WithLabelValues("addition").Inc()
	s.log.Info("group members added", "group_id", groupID, "version", key.Version, "members", len(members))
	return key.Version, nil
}

// WrapGroupKeyForMember seals one stored key version for a member device and
// records the grant.
func (s *Service) WrapGroupKeyForMember(ctx context.Context, groupID string, version uint32, memberDeviceID uuid.UUID) (*cryptocore.GroupKeyGrant, error) {
	rec, err := s.store.GroupKeys().Get(ctx, groupID, version)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, ErrGroupNotFound
		}
		return nil, err
	}
	key, err := s.openGroupKey(rec)
	if err != nil {
		return nil, err
	}
	grant, err := s.wrapOne(ctx, key, memberDeviceID)
	if err != nil {
		return nil, err
	}
	if err := s.store.GroupKeys().AddGrants(ctx, []domain.GroupKeyGrant{grantRow(memberDeviceID, grant)}); err != nil {
		return nil, err
	}
	return grant, nil
}

func (s *Service) EncryptGroupMessage(ctx context.Context, groupID string, plaintext []byte) (*cryptocore.GroupMessage, error) {
	latest, err := s.store.GroupKeys().Latest(ctx, groupID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, ErrGroupNotFound
		}
		return nil, err
	}
	key, err := s.openGroupKey(latest)
	if err != nil {
		return nil, err
	}
	return cryptocore.EncryptGroupMessage(key, plaintext)
}

// DecryptGroupMessage opens msg as memberDeviceID would: with the key
// versions unwrapped from that device's own grants.
func (s *Service) DecryptGroupMessage(ctx context.Context, memberDeviceID uuid.UUID, msg *cryptocore.GroupMessage) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: missing group message", ErrInvalidRequest)
	}
	grants, err := s.store.GroupKeys().GrantsForMember(ctx, msg.GroupID, memberDeviceID)
	if err != nil {
		return nil, err
	}
	if len(grants) == 0 {
		return nil, ErrNotGroupMember
	}
	_, dev, err := s.loadDevice(ctx, s.store, memberDeviceID)
	if err != nil {
		return nil, err
	}
	ring := cryptocore.NewGroupKeyring(msg.GroupID)
	for _, row := range grants {
		grant, err := grantFromRow(row)
		if err != nil {
			return nil, err
		}
		key, err := dev.UnwrapGroupKey(grant)
		if err != nil {
			return nil, fmt.Errorf("unwrap group key v%d: %w", row.Version, err)
		}
		if err := ring.Add(key); err != nil {
			return nil, err
		}
	}
	plaintext, err := ring.Decrypt(msg)
	if errors.Is(err, cryptocore.ErrUnknownGroupKeyVersion) {
		s.log.Debug("group message for a version without grant",
			"group_id", msg.GroupID,
			"device_id", memberDeviceID,
			"version", msg.Version,
			"held_versions", ring.Versions(),
		)
		return nil, fmt.Errorf("%w: no grant for version %d", ErrNotGroupMember, msg.Version)
	}
	return plaintext, err
}

// GroupMembers lists the members granted the current version.
func (s *Service) GroupMembers(ctx context.Context, groupID string) (uint32, []uuid.UUID, error) {
	latest, err := s.store.GroupKeys().Latest(ctx, groupID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return 0, nil, ErrGroupNotFound
		}
		return 0, nil, err
	}
	members, err := s.store.GroupKeys().Members(ctx, groupID, latest.Version)
	return latest.Version, members, err
}

func (s *Service) createVersion(ctx context.Context, groupID string, version uint32, members []uuid.UUID) error {
	key, err := cryptocore.NewGroupKey(groupID, version)
	if err != nil {
		return err
	}
	grants, err := s.wrapForMembers(ctx, key, members)
	if err != nil {
		return err
	}
	sealed, err := s.sealer.Seal(key.Key[:], groupAD(groupID, version))
	if err != nil {
		return err
	}
	return s.store.WithTx(ctx, func(tx *store.Store) error {
		if err := tx.GroupKeys().Insert(ctx, domain.GroupKeyRecord{GroupID: groupID, Version: version, Key: sealed}); err != nil {
			return err
		}
		return tx.GroupKeys().AddGrants(ctx, grants)
	})
}

func (s *Service) wrapForMembers(ctx context.Context, key *cryptocore.GroupKey, members []uuid.UUID) ([]domain.GroupKeyGrant, error) {
	seen := make(map[uuid.UUID]bool, len(members))
	rows := make([]domain.GroupKeyGrant, 0, len(members))
	for _, m := range members {
		if seen[m] {
			continue
		}
		seen[m] = true
		grant, err := s.wrapOne(ctx, key, m)
		if err != nil {
			return nil, err
		}
		rows = append(rows, grantRow(m, grant))
	}
	return rows, nil
}

func (s *Service) wrapOne(ctx context.Context, key *cryptocore.GroupKey, member uuid.UUID) (*cryptocore.GroupKeyGrant, error) {
	ik, err := s.store.IdentityKeys().GetByDevice(ctx, member)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: member %s", ErrDeviceNotFound, member)
		}
		return nil, err
	}
	pub, err := decodeKey32(ik.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("identity key of %s: %w", member, err)
	}
	return cryptocore.WrapGroupKeyForMember(key, member.String(), pub)
}

func (s *Service) openGroupKey(rec *domain.GroupKeyRecord) (*cryptocore.GroupKey, error) {
	raw, err := s.sealer.Open(rec.Key, groupAD(rec.GroupID, rec.Version))
	if err != nil {
		return nil, fmt.Errorf("open group key %s v%d: %w", rec.GroupID, rec.Version, err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("group key %s v%d has %d bytes", rec.GroupID, rec.Version, len(raw))
	}
	key := &cryptocore.GroupKey{GroupID: rec.GroupID, Version: rec.Version}
	copy(key.Key[:], raw)
	return key, nil
}

func grantRow(member uuid.UUID, g *cryptocore.GroupKeyGrant) domain.GroupKeyGrant {
	return domain.GroupKeyGrant{
		GroupID:      g.GroupID,
		Version:      g.Version,
		MemberID:     member,
		EphemeralKey: append([]byte(nil), g.EphemeralKey[:]...),
		Nonce:        append([]byte(nil), g.Nonce[:]...),
		WrappedKey:   g.WrappedKey,
	}
}

func grantFromRow(row domain.GroupKeyGrant) (*cryptocore.GroupKeyGrant, error) {
	g := &cryptocore.GroupKeyGrant{
		GroupID:    row.GroupID,
		Version:    row.Version,
		MemberID:   row.MemberID.String(),
		WrappedKey: row.WrappedKey,
	}
	if len(row.EphemeralKey) != len(g.EphemeralKey) || len(row.Nonce) != len(g.Nonce) {
		return nil, fmt.Errorf("malformed grant %s v%d for %s", row.GroupID, row.Version, row.MemberID)
	}
	copy(g.EphemeralKey[:], row.EphemeralKey)
	copy(g.Nonce[:], row.Nonce)
	return g, nil
}
