package db

import (
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/competitors"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/ingest"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/urlperf"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/visibility"
)

// Client backs every pipeline stage.
var (
	_ ingest.Store           = (*Client)(nil)
	_ visibility.Store       = (*Client)(nil)
	_ visibility.ReportStore = (*Client)(nil)
	_ competitors.Store      = (*Client)(nil)
	_ urlperf.Store          = (*Client)(nil)
	_ urlperf.QueryStore     = (*Client)(nil)
)
