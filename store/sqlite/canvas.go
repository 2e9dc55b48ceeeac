package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/zlnvch/fluxcanvas/models"
	"github.com/zlnvch/fluxcanvas/store"
)

const (
	memberAllowed = "allowed"
	memberPending = "pending"
	memberLiked   = "liked"
)

const canvasColumns = `id, creator_id, creator_username, access_type, invite_code, total_pages,
	max_collaborators, created_at, expires_at, is_expired, view_count, like_count,
	exported_image_url, layers_version`

func (s *SQLiteCanvasStore) CreateCanvas(ctx context.Context, canvas models.Canvas) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		exists, err := canvasExists(ctx, tx, canvas.Id)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("canvas id already used: %w", store.ErrConditionFailed)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO canvases (`+canvasColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
			canvas.Id, canvas.CreatorId, canvas.CreatorUsername, string(canvas.AccessType),
			canvas.InviteCode, canvas.TotalPages, canvas.MaxCollaborators,
			canvas.CreatedAt.UnixMilli(), canvas.ExpiresAt.UnixMilli(), canvas.IsExpired,
			canvas.ViewCount, len(canvas.LikedBy), canvas.ExportedImageUrl,
		)
		if err != nil {
			return fmt.Errorf("sqlite: inserting canvas: %w", err)
		}

		for kind, users := range map[string][]string{
			memberAllowed: canvas.AllowedUsers,
			memberPending: canvas.PendingRequests,
			memberLiked:   canvas.LikedBy,
		} {
			for _, userId := range users {
				if err := addMember(ctx, tx, canvas.Id, kind, userId); err != nil {
					return err
				}
			}
		}

		for _, layer := range canvas.Layers {
			if err := insertLayer(ctx, tx, canvas.Id, layer); err != nil {
				return err
			}
			if err := bumpLayersVersion(ctx, tx, canvas.Id); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteCanvasStore) GetCanvas(ctx context.Context, canvasId string) (models.Canvas, error) {
	var canvas models.Canvas
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		canvas, err = scanCanvas(tx.QueryRowContext(ctx, `SELECT `+canvasColumns+` FROM canvases WHERE id = ?`, canvasId))
		if err != nil {
			return err
		}

		if err := loadMembers(ctx, tx, &canvas); err != nil {
			return err
		}

		canvas.Layers, err = loadLayers(ctx, tx, canvasId)
		return err
	})
	if err != nil {
		return models.Canvas{}, err
	}
	return canvas, nil
}

func (s *SQLiteCanvasStore) DeleteCanvas(ctx context.Context, canvasId string, creatorId string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var owner string
		err := tx.QueryRowContext(ctx, `SELECT creator_id FROM canvases WHERE id = ?`, canvasId).Scan(&owner)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrCanvasNotFound
		}
		if err != nil {
			return fmt.Errorf("sqlite: reading canvas owner: %w", err)
		}
		if owner != creatorId {
			return store.ErrConditionFailed
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM canvases WHERE id = ?`, canvasId); err != nil {
			return fmt.Errorf("sqlite: deleting canvas: %w", err)
		}
		return nil
	})
}

func (s *SQLiteCanvasStore) DeleteCanvasLayers(ctx context.Context, canvasId string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM layers WHERE canvas_id = ?`, canvasId); err != nil {
		return fmt.Errorf("sqlite: deleting layers: %w", err)
	}
	return nil
}

func (s *SQLiteCanvasStore) IncrementViewCount(ctx context.Context, canvasId string, count int) error {
	return s.updateCanvas(ctx, `UPDATE canvases SET view_count = view_count + ? WHERE id = ?`, count, canvasId)
}

func (s *SQLiteCanvasStore) SetLike(ctx context.Context, canvasId string, userId string, liked bool) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		exists, err := canvasExists(ctx, tx, canvasId)
		if err != nil {
			return err
		}
		if !exists {
			return store.ErrCanvasNotFound
		}

		isMember, err := hasMember(ctx, tx, canvasId, memberLiked, userId)
		if err != nil {
			return err
		}
		if isMember == liked {
			return store.ErrConditionFailed
		}

		delta := 1
		if liked {
			err = addMember(ctx, tx, canvasId, memberLiked, userId)
		} else {
			delta = -1
			err = removeMember(ctx, tx, canvasId, memberLiked, userId)
		}
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `UPDATE canvases SET like_count = like_count + ? WHERE id = ?`, delta, canvasId)
		if err != nil {
			return fmt.Errorf("sqlite: updating like count: %w", err)
		}
		return nil
	})
}

func (s *SQLiteCanvasStore) AddPendingRequest(ctx context.Context, canvasId string, userId string) error {
	return s.withCanvasTx(ctx, canvasId, func(tx *sql.Tx) error {
		return addMember(ctx, tx, canvasId, memberPending, userId)
	})
}

func (s *SQLiteCanvasStore) RemovePendingRequest(ctx context.Context, canvasId string, userId string) error {
	return s.withCanvasTx(ctx, canvasId, func(tx *sql.Tx) error {
		return removeMember(ctx, tx, canvasId, memberPending, userId)
	})
}

func (s *SQLiteCanvasStore) GrantMembership(ctx context.Context, canvasId string, userId string) error {
	return s.withCanvasTx(ctx, canvasId, func(tx *sql.Tx) error {
		if err := addMember(ctx, tx, canvasId, memberAllowed, userId); err != nil {
			return err
		}
		return removeMember(ctx, tx, canvasId, memberPending, userId)
	})
}

func (s *SQLiteCanvasStore) AddPage(ctx context.Context, canvasId string) (int, error) {
	var totalPages int
	err := s.withCanvasTx(ctx, canvasId, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE canvases SET total_pages = total_pages + 1 WHERE id = ?`, canvasId); err != nil {
			return fmt.Errorf("sqlite: adding page: %w", err)
		}
		return tx.QueryRowContext(ctx, `SELECT total_pages FROM canvases WHERE id = ?`, canvasId).Scan(&totalPages)
	})
	return totalPages, err
}

func (s *SQLiteCanvasStore) SetExportedImageURL(ctx context.Context, canvasId string, url string) error {
	return s.updateCanvas(ctx, `UPDATE canvases SET exported_image_url = ? WHERE id = ?`, url, canvasId)
}

func (s *SQLiteCanvasStore) ListDiscoverable(ctx context.Context) ([]models.Canvas, error) {
	var canvases []models.Canvas
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT `+canvasColumns+` FROM canvases WHERE access_type = ? AND is_expired = 0 ORDER BY created_at DESC`,
			string(models.AccessPublic),
		)
		if err != nil {
			return fmt.Errorf("sqlite: listing canvases: %w", err)
		}

		for rows.Next() {
			canvas, err := scanCanvas(rows)
			if err != nil {
				rows.Close()
				return err
			}
			canvases = append(canvases, canvas)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("sqlite: iterating canvases: %w", err)
		}
		rows.Close()

		for i := range canvases {
			if err := loadMembers(ctx, tx, &canvases[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return canvases, nil
}

func (s *SQLiteCanvasStore) ListExpiryCandidates(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id FROM canvases WHERE is_expired = 0 AND expires_at < ? ORDER BY expires_at`,
		now.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing expiry candidates: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scanning canvas id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteCanvasStore) MarkExpired(ctx context.Context, canvasId string) error {
	return s.updateCanvas(ctx, `UPDATE canvases SET is_expired = 1 WHERE id = ?`, canvasId)
}

// updateCanvas runs a single-row update and reports ErrCanvasNotFound when no row matched.
func (s *SQLiteCanvasStore) updateCanvas(ctx context.Context, query string, args ...any) error {
	res, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqlite: updating canvas: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrCanvasNotFound
	}
	return nil
}

// withCanvasTx is withTx that first requires the canvas to exist.
func (s *SQLiteCanvasStore) withCanvasTx(ctx context.Context, canvasId string, fn func(tx *sql.Tx) error) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		exists, err := canvasExists(ctx, tx, canvasId)
		if err != nil {
			return err
		}
		if !exists {
			return store.ErrCanvasNotFound
		}
		return fn(tx)
	})
}

func canvasExists(ctx context.Context, tx *sql.Tx, canvasId string) (bool, error) {
	var count int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM canvases WHERE id = ?`, canvasId).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking canvas: %w", err)
	}
	return count > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCanvas(row rowScanner) (models.Canvas, error) {
	var (
		c                    models.Canvas
		accessType           string
		createdAt, expiresAt int64
	)
	err := row.Scan(
		&c.Id, &c.CreatorId, &c.CreatorUsername, &accessType, &c.InviteCode, &c.TotalPages,
		&c.MaxCollaborators, &createdAt, &expiresAt, &c.IsExpired, &c.ViewCount, &c.LikeCount,
		&c.ExportedImageUrl, &c.LayersVersion,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Canvas{}, store.ErrCanvasNotFound
	}
	if err != nil {
		return models.Canvas{}, fmt.Errorf("sqlite: scanning canvas: %w", err)
	}

	c.AccessType = models.AccessType(accessType)
	c.CreatedAt = time.UnixMilli(createdAt).UTC()
	c.ExpiresAt = time.UnixMilli(expiresAt).UTC()
	c.AllowedUsers = []string{}
	c.PendingRequests = []string{}
	c.LikedBy = []string{}
	c.Layers = []models.Layer{}
	return c, nil
}

func loadMembers(ctx context.Context, tx *sql.Tx, canvas *models.Canvas) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT kind, user_id FROM canvas_members WHERE canvas_id = ? ORDER BY added_at, user_id`,
		canvas.Id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: loading members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind, userId string
		if err := rows.Scan(&kind, &userId); err != nil {
			return fmt.Errorf("sqlite: scanning member: %w", err)
		}
		switch kind {
		case memberAllowed:
			canvas.AllowedUsers = append(canvas.AllowedUsers, userId)
		case memberPending:
			canvas.PendingRequests = append(canvas.PendingRequests, userId)
		case memberLiked:
			canvas.LikedBy = append(canvas.LikedBy, userId)
		}
	}
	return rows.Err()
}

func hasMember(ctx context.Context, tx *sql.Tx, canvasId, kind, userId string) (bool, error) {
	var count int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM canvas_members WHERE canvas_id = ? AND kind = ? AND user_id = ?`,
		canvasId, kind, userId,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking member: %w", err)
	}
	return count > 0, nil
}

func addMember(ctx context.Context, tx *sql.Tx, canvasId, kind, userId string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO canvas_members (canvas_id, kind, user_id, added_at) VALUES (?, ?, ?, ?)`,
		canvasId, kind, userId, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: adding %s member: %w", kind, err)
	}
	return nil
}

func removeMember(ctx context.Context, tx *sql.Tx, canvasId, kind, userId string) error {
	_, err := tx.ExecContext(ctx,
		`DELETE FROM canvas_members WHERE canvas_id = ? AND kind = ? AND user_id = ?`,
		canvasId, kind, userId,
	)
	if err != nil {
		return fmt.Errorf("sqlite: removing %s member: %w", kind, err)
	}
	return nil
}
