package connectors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otcheredev/manifest-connector/internal/models"
)

func TestEngineForCachesPerConnector(t *testing.T) {
	factory := NewFactory(nil, "WEASIS", time.Second)

	first, err := factory.EngineFor(sqlConnector())
	require.NoError(t, err)

	// The second call must take the cached fast path.
	second, err := factory.EngineFor(sqlConnector())
	require.NoError(t, err)
	assert.Same(t, first, second)

	web := &models.Connector{
		ID:   "arc-web",
		Kind: models.KindDICOMWeb,
		Web:  &models.WebSettings{QIDOURL: "https://pacs.example/qido"},
	}
	other, err := factory.EngineFor(web)
	require.NoError(t, err)
	assert.NotSame(t, first, other)
}

func TestEngineForRejectsMissingSettings(t *testing.T) {
	factory := NewFactory(nil, "WEASIS", time.Second)

	_, err := factory.EngineFor(&models.Connector{ID: "arc-bad", Kind: models.KindSQL})
	assert.Error(t, err)

	_, err = factory.EngineFor(&models.Connector{ID: "arc-odd", Kind: "carestream"})
	assert.Error(t, err)
}
