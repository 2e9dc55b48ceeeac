package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zlnvch/fluxcanvas/models"
	"github.com/zlnvch/fluxcanvas/store"
)

const layerColumns = `id, type, x, y, width, height, rotation, z_index, page_index, image_url,
	caption, text, font_size, font_color, font_family, animation, created_by,
	created_by_username, created_by_profile_pic, created_at, updated_at, version`

func (s *SQLiteCanvasStore) PutLayer(ctx context.Context, canvasId string, layer models.Layer) error {
	return s.withCanvasTx(ctx, canvasId, func(tx *sql.Tx) error {
		_, err := layerVersion(ctx, tx, canvasId, layer.Id)
		if err == nil {
			return store.ErrLayerExists
		}
		if !errors.Is(err, store.ErrLayerNotFound) {
			return err
		}

		if err := insertLayer(ctx, tx, canvasId, layer); err != nil {
			return err
		}
		return bumpLayersVersion(ctx, tx, canvasId)
	})
}

func (s *SQLiteCanvasStore) UpdateLayer(ctx context.Context, canvasId string, layer models.Layer, expectedVersion int64) (models.Layer, error) {
	err := s.withCanvasTx(ctx, canvasId, func(tx *sql.Tx) error {
		current, err := layerVersion(ctx, tx, canvasId, layer.Id)
		if err != nil {
			return err
		}
		if current != expectedVersion {
			return store.ErrVersionConflict
		}

		animation, err := marshalAnimation(layer.Animation)
		if err != nil {
			return err
		}

		layer.Version = expectedVersion + 1
		_, err = tx.ExecContext(ctx, `
			UPDATE layers SET
				type = ?, x = ?, y = ?, width = ?, height = ?, rotation = ?, z_index = ?,
				page_index = ?, image_url = ?, caption = ?, text = ?, font_size = ?,
				font_color = ?, font_family = ?, animation = ?, updated_at = ?, version = ?
			WHERE canvas_id = ? AND id = ?`,
			string(layer.Type), layer.Position.X, layer.Position.Y, layer.Size.Width, layer.Size.Height,
			layer.Rotation, layer.ZIndex, layer.PageIndex, layer.ImageUrl, layer.Caption, layer.Text,
			layer.FontSize, layer.FontColor, layer.FontFamily, animation, layer.UpdatedAt.UnixMilli(),
			layer.Version, canvasId, layer.Id,
		)
		if err != nil {
			return fmt.Errorf("sqlite: updating layer: %w", err)
		}
		return bumpLayersVersion(ctx, tx, canvasId)
	})
	if err != nil {
		return models.Layer{}, err
	}
	return layer, nil
}

func (s *SQLiteCanvasStore) DeleteLayer(ctx context.Context, canvasId string, layerId string) error {
	return s.withCanvasTx(ctx, canvasId, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM layers WHERE canvas_id = ? AND id = ?`, canvasId, layerId)
		if err != nil {
			return fmt.Errorf("sqlite: deleting layer: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("sqlite: rows affected: %w", err)
		}
		if n == 0 {
			return store.ErrLayerNotFound
		}
		return bumpLayersVersion(ctx, tx, canvasId)
	})
}

func (s *SQLiteCanvasStore) ReplaceLayers(ctx context.Context, canvasId string, layers []models.Layer, expectedLayersVersion int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var current int64
		err := tx.QueryRowContext(ctx, `SELECT layers_version FROM canvases WHERE id = ?`, canvasId).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrCanvasNotFound
		}
		if err != nil {
			return fmt.Errorf("sqlite: reading layers version: %w", err)
		}
		if current != expectedLayersVersion {
			return store.ErrVersionConflict
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM layers WHERE canvas_id = ?`, canvasId); err != nil {
			return fmt.Errorf("sqlite: clearing layers: %w", err)
		}
		for i, layer := range layers {
			if err := insertLayerAt(ctx, tx, canvasId, layer, int64(i)); err != nil {
				return err
			}
		}
		return bumpLayersVersion(ctx, tx, canvasId)
	})
}

func bumpLayersVersion(ctx context.Context, tx *sql.Tx, canvasId string) error {
	_, err := tx.ExecContext(ctx, `UPDATE canvases SET layers_version = layers_version + 1 WHERE id = ?`, canvasId)
	if err != nil {
		return fmt.Errorf("sqlite: bumping layers version: %w", err)
	}
	return nil
}

func layerVersion(ctx context.Context, tx *sql.Tx, canvasId, layerId string) (int64, error) {
	var version int64
	err := tx.QueryRowContext(ctx,
		`SELECT version FROM layers WHERE canvas_id = ? AND id = ?`, canvasId, layerId,
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, store.ErrLayerNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite: reading layer version: %w", err)
	}
	return version, nil
}

// insertLayer appends layer after every existing layer of the canvas.
func insertLayer(ctx context.Context, tx *sql.Tx, canvasId string, layer models.Layer) error {
	var next int64
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sort_order), -1) + 1 FROM layers WHERE canvas_id = ?`, canvasId,
	).Scan(&next)
	if err != nil {
		return fmt.Errorf("sqlite: reading sort order: %w", err)
	}
	return insertLayerAt(ctx, tx, canvasId, layer, next)
}

func insertLayerAt(ctx context.Context, tx *sql.Tx, canvasId string, layer models.Layer, sortOrder int64) error {
	animation, err := marshalAnimation(layer.Animation)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO layers (canvas_id, sort_order, `+layerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		canvasId, sortOrder, layer.Id, string(layer.Type), layer.Position.X, layer.Position.Y,
		layer.Size.Width, layer.Size.Height, layer.Rotation, layer.ZIndex, layer.PageIndex,
		layer.ImageUrl, layer.Caption, layer.Text, layer.FontSize, layer.FontColor, layer.FontFamily,
		animation, layer.CreatedBy, layer.CreatedByUsername, layer.CreatedByProfilePic,
		layer.CreatedAt.UnixMilli(), layer.UpdatedAt.UnixMilli(), layer.Version,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting layer: %w", err)
	}
	return nil
}

func loadLayers(ctx context.Context, tx *sql.Tx, canvasId string) ([]models.Layer, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+layerColumns+` FROM layers WHERE canvas_id = ? ORDER BY sort_order, id`, canvasId,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: loading layers: %w", err)
	}
	defer rows.Close()

	layers := []models.Layer{}
	for rows.Next() {
		var (
			l                    models.Layer
			layerType            string
			animation            sql.NullString
			createdAt, updatedAt int64
		)
		err := rows.Scan(
			&l.Id, &layerType, &l.Position.X, &l.Position.Y, &l.Size.Width, &l.Size.Height,
			&l.Rotation, &l.ZIndex, &l.PageIndex, &l.ImageUrl, &l.Caption, &l.Text, &l.FontSize,
			&l.FontColor, &l.FontFamily, &animation, &l.CreatedBy, &l.CreatedByUsername,
			&l.CreatedByProfilePic, &createdAt, &updatedAt, &l.Version,
		)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning layer: %w", err)
		}

		l.Type = models.LayerType(layerType)
		l.CreatedAt = time.UnixMilli(createdAt).UTC()
		l.UpdatedAt = time.UnixMilli(updatedAt).UTC()
		if animation.Valid {
			var a models.Animation
			if err := json.Unmarshal([]byte(animation.String), &a); err != nil {
				return nil, fmt.Errorf("sqlite: decoding animation: %w", err)
			}
			l.Animation = &a
		}
		layers = append(layers, l)
	}
	return layers, rows.Err()
}

func marshalAnimation(a *models.Animation) (sql.NullString, error) {
	if a == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("sqlite: encoding animation: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
