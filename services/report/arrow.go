package report

import (
	"bytes"
	"fmt"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"

	"backtest-engine/services/sim"
)

// ArrowExporter serializes run output as Arrow IPC streams for downstream
// analysis tools. Prices cross into float64 at this boundary; the canonical
// decimal values stay in the JSON result.
type ArrowExporter struct {
	mem memory.Allocator
}

func NewArrowExporter() *ArrowExporter {
	return &ArrowExporter{mem: memory.NewGoAllocator()}
}

var tradesSchema = arrow.NewSchema([]arrow.Field{
	{Name: "symbol", Type: arrow.BinaryTypes.String},
	{Name: "direction", Type: arrow.BinaryTypes.String},
	{Name: "entry_time", Type: arrow.PrimitiveTypes.Int64},
	{Name: "entry_price", Type: arrow.PrimitiveTypes.Float64},
	{Name: "exit_time", Type: arrow.PrimitiveTypes.Int64},
	{Name: "exit_price", Type: arrow.PrimitiveTypes.Float64},
	{Name: "quantity", Type: arrow.PrimitiveTypes.Float64},
	{Name: "pnl", Type: arrow.PrimitiveTypes.Float64},
	{Name: "commission", Type: arrow.PrimitiveTypes.Float64},
	{Name: "reason", Type: arrow.BinaryTypes.String},
	{Name: "bars_held", Type: arrow.PrimitiveTypes.Int32},
}, nil)

var equitySchema = arrow.NewSchema([]arrow.Field{
	{Name: "index", Type: arrow.PrimitiveTypes.Int32},
	{Name: "timestamp", Type: arrow.PrimitiveTypes.Int64},
	{Name: "equity", Type: arrow.PrimitiveTypes.Float64},
}, nil)

// TradesIPC encodes the trade table. A run with zero trades produces a
// valid zero-row stream.
func (e *ArrowExporter) TradesIPC(trades []sim.Trade) ([]byte, error) {
	b := array.NewRecordBuilder(e.mem, tradesSchema)
	defer b.Release()

	for _, t := range trades {
		b.Field(0).(*array.StringBuilder).Append(t.Symbol)
		b.Field(1).(*array.StringBuilder).Append(t.Direction.String())
		b.Field(2).(*array.Int64Builder).Append(t.EntryTime)
		b.Field(3).(*array.Float64Builder).Append(t.EntryPrice.InexactFloat64())
		b.Field(4).(*array.Int64Builder).Append(t.ExitTime)
		b.Field(5).(*array.Float64Builder).Append(t.ExitPrice.InexactFloat64())
		b.Field(6).(*array.Float64Builder).Append(t.Quantity.InexactFloat64())
		b.Field(7).(*array.Float64Builder).Append(t.PnL.InexactFloat64())
		b.Field(8).(*array.Float64Builder).Append(t.Commission.InexactFloat64())
		b.Field(9).(*array.StringBuilder).Append(string(t.Reason))
		b.Field(10).(*array.Int32Builder).Append(int32(t.BarsHeld))
	}
	return e.writeIPC(tradesSchema, b)
}

// EquityIPC encodes the equity curve table.
func (e *ArrowExporter) EquityIPC(curve []sim.EquityPoint) ([]byte, error) {
	b := array.NewRecordBuilder(e.mem, equitySchema)
	defer b.Release()

	for _, p := range curve {
		b.Field(0).(*array.Int32Builder).Append(int32(p.Index))
		b.Field(1).(*array.Int64Builder).Append(p.Timestamp)
		b.Field(2).(*array.Float64Builder).Append(p.Equity.InexactFloat64())
	}
	return e.writeIPC(equitySchema, b)
}

func (e *ArrowExporter) writeIPC(schema *arrow.Schema, b *array.RecordBuilder) ([]byte, error) {
	record := b.NewRecord()
	defer record.Release()

	var buf bytes.Buffer
	writer := ipc.NewWriter(&buf, ipc.WithSchema(schema), ipc.WithAllocator(e.mem))
	if err := writer.Write(record); err != nil {
		writer.Close()
		return nil, fmt.Errorf("write arrow record: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close arrow writer: %w", err)
	}
	return buf.Bytes(), nil
}
