package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Bronze dataset names.
const (
	DatasetRBOBFutures     = "rbob_futures"
	DatasetWTIFutures      = "wti_futures"
	DatasetEIARetail       = "eia_retail"
	DatasetEIAInventory    = "eia_inventory"
	DatasetEIAUtilization  = "eia_utilization"
	DatasetEIAImports      = "eia_imports"
	DatasetEIAExports      = "eia_exports"
	DatasetEIADemand       = "eia_demand"
	DatasetEIAPADD3Stocks  = "eia_padd3_stocks"
	DatasetNOAATemperature = "noaa_temp"
	DatasetHURDAT2         = "hurdat2"
)

// Payload schema versions recorded with each snapshot.
const (
	SchemaYahooChart = "yahoo.chart.v8"
	SchemaEIAv2      = "eia.v2"
	SchemaNOAACDO    = "noaa.cdo.v2"
	SchemaHURDAT2    = "hurdat2.v1"
)

// RawRecord is one immutable Bronze snapshot: the bytes a source returned
// for a dataset at a point in time.
type RawRecord struct {
	ID            string    `json:"id"`
	Dataset       string    `json:"dataset"`
	RunID         string    `json:"run_id"`
	RetrievedAt   time.Time `json:"retrieved_at"`
	SchemaVersion string    `json:"schema_version"`
	ContentType   string    `json:"content_type"`
	Payload       []byte    `json:"-"`
	SHA256        string    `json:"sha256"`
}

// Checksum returns the hex SHA-256 of the payload.
func (r RawRecord) Checksum() string {
	sum := sha256.Sum256(r.Payload)
	return hex.EncodeToString(sum[:])
}
