package workflowtest

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ticketpress/ticketpress/internal/testutil"
)

func TestWorkflow_SubmitToFinishedPDF(t *testing.T) {
	WithHarness(t, Options{}, func(h *Harness) {
		spec := testutil.NewSpec().
			WithSourceKey("sources/workflow.svg").
			WithWatermarks(testutil.TextWatermark("SAMPLE")).
			Build()

		status := h.SubmitAndFinish("sources/workflow.svg", testutil.TicketMarkup, spec, 30*time.Second)

		require.NotNil(t, status.ResultArtifactKey)
		h.AssertPDFArtifact(*status.ResultArtifactKey)

		stats := h.GetStats()
		assert.Equal(t, 1, stats.Done)
		assert.Zero(t, stats.Failed)
	})
}

func TestWorkflow_SubmitRejectsMissingSource(t *testing.T) {
	WithHarness(t, Options{}, func(h *Harness) {
		spec := testutil.NewSpec().WithSourceKey("sources/absent.svg").Build()
		body, err := json.Marshal(spec)
		require.NoError(t, err)

		resp := h.doJSON(http.MethodPost, "/api/vector/jobs", body)
		defer h.closeBody(resp)

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}
