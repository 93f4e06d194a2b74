package gold

import (
	"bytes"
	"context"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/apache/arrow/go/v17/parquet"
	"github.com/apache/arrow/go/v17/parquet/compress"
	"github.com/apache/arrow/go/v17/parquet/file"
	"github.com/apache/arrow/go/v17/parquet/pqarrow"
	"github.com/rotisserie/eris"

	"github.com/sells-group/pumpcast/internal/model"
)

const (
	colDate      = "date"
	colNoSources = "no_sources"
	filledSuffix = "_filled"
	// metaTable is the Parquet footer key holding the Gold table name.
	metaTable = "pumpcast.table"
)

// schemaFor lays out a Gold table: date, target, value columns, fill flags
// and the no-source flag.
func schemaFor(t *model.GoldTable) *arrow.Schema {
	fields := make([]arrow.Field, 0, 3+len(t.Columns)+len(t.FillFields))
	fields = append(fields,
		arrow.Field{Name: colDate, Type: arrow.FixedWidthTypes.Date32},
		arrow.Field{Name: string(model.ColTarget), Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	)
	for _, c := range t.Columns {
		fields = append(fields, arrow.Field{Name: string(c), Type: arrow.PrimitiveTypes.Float64, Nullable: true})
	}
	for _, f := range t.FillFields {
		fields = append(fields, arrow.Field{Name: string(f) + filledSuffix, Type: arrow.FixedWidthTypes.Boolean})
	}
	fields = append(fields, arrow.Field{Name: colNoSources, Type: arrow.FixedWidthTypes.Boolean})
	return arrow.NewSchema(fields, nil)
}

func appendOpt(b *array.Float64Builder, v model.Opt) {
	if v.Valid {
		b.Append(v.V)
	} else {
		b.AppendNull()
	}
}

// EncodeParquet serializes t as a single-row-group Parquet file.
func EncodeParquet(t *model.GoldTable) ([]byte, error) {
	pool := memory.NewGoAllocator()
	schema := schemaFor(t)

	rb := array.NewRecordBuilder(pool, schema)
	defer rb.Release()

	dates := rb.Field(0).(*array.Date32Builder)
	target := rb.Field(1).(*array.Float64Builder)
	for _, r := range t.Rows {
		dates.Append(arrow.Date32FromTime(r.Date))
		appendOpt(target, r.Target)
		for ci := range t.Columns {
			appendOpt(rb.Field(2+ci).(*array.Float64Builder), r.Values[ci])
		}
		for fi := range t.FillFields {
			rb.Field(2+len(t.Columns)+fi).(*array.BooleanBuilder).Append(r.Filled[fi])
		}
		rb.Field(schema.NumFields() - 1).(*array.BooleanBuilder).Append(r.NoSources)
	}

	record := rb.NewRecord()
	defer record.Release()

	props := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Snappy),
		parquet.WithCreatedBy("pumpcast"),
	)
	var buf bytes.Buffer
	writer, err := pqarrow.NewFileWriter(schema, &buf, props, pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
	if err != nil {
		return nil, eris.Wrapf(err, "gold: parquet writer for %s", t.Name)
	}
	if err := writer.Write(record); err != nil {
		writer.Close() //nolint:errcheck
		return nil, eris.Wrapf(err, "gold: write parquet %s", t.Name)
	}
	if err := writer.AppendKeyValueMetadata(metaTable, t.Name); err != nil {
		writer.Close() //nolint:errcheck
		return nil, eris.Wrapf(err, "gold: parquet metadata for %s", t.Name)
	}
	if err := writer.Close(); err != nil {
		return nil, eris.Wrapf(err, "gold: close parquet %s", t.Name)
	}
	return buf.Bytes(), nil
}

// DecodeParquet reads a file written by EncodeParquet.
func DecodeParquet(ctx context.Context, data []byte) (*model.GoldTable, error) {
	pool := memory.NewGoAllocator()
	pf, err := file.NewParquetReader(bytes.NewReader(data), file.WithReadProps(parquet.NewReaderProperties(pool)))
	if err != nil {
		return nil, eris.Wrap(err, "gold: open parquet")
	}
	defer pf.Close() //nolint:errcheck

	name := ""
	if v := pf.MetaData().KeyValueMetadata().FindValue(metaTable); v != nil {
		name = *v
	}

	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, pool)
	if err != nil {
		return nil, eris.Wrap(err, "gold: parquet schema")
	}
	tbl, err := fr.ReadTable(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "gold: read parquet")
	}
	defer tbl.Release()

	schema := tbl.Schema()

	var cols []model.Column
	var fills []model.Field
	for _, f := range schema.Fields() {
		switch {
		case f.Name == colDate || f.Name == string(model.ColTarget) || f.Name == colNoSources:
		case f.Type.ID() == arrow.BOOL && len(f.Name) > len(filledSuffix) &&
			f.Name[len(f.Name)-len(filledSuffix):] == filledSuffix:
			fills = append(fills, model.Field(f.Name[:len(f.Name)-len(filledSuffix)]))
		default:
			cols = append(cols, model.Column(f.Name))
		}
	}

	out := model.NewGoldTable(name, cols, fills)
	n := int(tbl.NumRows())
	out.Rows = make([]model.GoldRow, n)
	for i := range out.Rows {
		out.Rows[i].Values = make([]model.Opt, len(cols))
		out.Rows[i].Filled = make([]bool, len(fills))
	}

	for ci := 0; ci < int(tbl.NumCols()); ci++ {
		field := schema.Field(ci)
		row := 0
		for _, chunk := range tbl.Column(ci).Data().Chunks() {
			for k := 0; k < chunk.Len(); k++ {
				if err := assign(out, &out.Rows[row], field.Name, chunk, k); err != nil {
					return nil, err
				}
				row++
			}
		}
	}
	return out, nil
}

func assign(t *model.GoldTable, r *model.GoldRow, name string, chunk arrow.Array, k int) error {
	switch a := chunk.(type) {
	case *array.Date32:
		r.Date = a.Value(k).ToTime().UTC()
	case *array.Float64:
		v := model.None
		if !a.IsNull(k) {
			v = model.Some(a.Value(k))
		}
		if name == string(model.ColTarget) {
			r.Target = v
			return nil
		}
		r.Values[t.ColumnIndex(model.Column(name))] = v
	case *array.Boolean:
		if name == colNoSources {
			r.NoSources = a.Value(k)
			return nil
		}
		r.Filled[t.FillIndex(model.Field(name[:len(name)-len(filledSuffix)]))] = a.Value(k)
	default:
		return eris.Errorf("gold: unexpected parquet column %s of type %s", name, chunk.DataType())
	}
	return nil
}
