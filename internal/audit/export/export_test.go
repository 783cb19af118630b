package export

import (
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainlog/internal/audit/canonical"
	"chainlog/internal/audit/models"
)

func TestRenderEmptyIsHeaderOnly(t *testing.T) {
	out, err := Render(nil)
	require.NoError(t, err)

	rows, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, Header, rows[0])
}

func TestRenderRoundTripsAwkwardValues(t *testing.T) {
	r := &models.Record{
		Sequence:  12,
		ID:        uuid.New(),
		Timestamp: time.Date(2026, 5, 2, 11, 30, 0, 123456000, time.UTC),
		EventType: models.EventDataModify,
		Severity:  models.SeverityHigh,
		Status:    models.StatusWarning,
		UserID:    "user,with,commas",
		Resource:  `orders,2026 "Q1"`,
		Action:    `update "critical" field`,
		Details:   map[string]any{"note": "line1\nline2"},
		Hash:      "aa",
		PrevHash:  "bb",
	}

	out, err := Render([]*models.Record{r})
	require.NoError(t, err)

	rows, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)

	byName := map[string]string{}
	for i, col := range rows[0] {
		byName[col] = rows[1][i]
	}

	assert.Equal(t, "12", byName["sequence"])
	assert.Equal(t, r.UserID, byName["userId"])
	assert.Equal(t, r.Resource, byName["resource"])
	assert.Equal(t, r.Action, byName["action"])
	assert.Equal(t, canonical.EncodeMap(r.Details), byName["details"])
	assert.Equal(t, r.Timestamp.Format(time.RFC3339Nano), byName["timestamp"])
}

func TestRenderOneRowPerRecordInGivenOrder(t *testing.T) {
	records := []*models.Record{
		{Sequence: 1, ID: uuid.New(), EventType: models.EventSystem, Details: map[string]any{}},
		{Sequence: 2, ID: uuid.New(), EventType: models.EventSystem, Details: map[string]any{}},
		{Sequence: 3, ID: uuid.New(), EventType: models.EventSystem, Details: map[string]any{}},
	}

	out, err := Render(records)
	require.NoError(t, err)

	rows, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "1", rows[1][0])
	assert.Equal(t, "2", rows[2][0])
	assert.Equal(t, "3", rows[3][0])
}

func TestRenderEmptyMetadataCellIsBlank(t *testing.T) {
	r := &models.Record{Sequence: 1, ID: uuid.New(), Details: map[string]any{}}

	out, err := Render([]*models.Record{r})
	require.NoError(t, err)

	rows, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)

	byName := map[string]string{}
	for i, col := range rows[0] {
		byName[col] = rows[1][i]
	}
	assert.Equal(t, "", byName["metadata"])
	assert.Equal(t, "{}", byName["details"])
}
