package hostbridge

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/untoldecay/wadup/internal/sink"
)

// direct call interface error codes: zero means success, negative values
// distinguish failure modes.
const (
	errOK             int32 = 0
	errGeneric        int32 = -1
	errOutOfRange     int32 = -2
	errSchemaConflict int32 = -3
	errRowShape       int32 = -4
	errBadHandle      int32 = -5
)

// BuildHostModule registers interface (A)'s direct-call functions into a
// wazero host module named "wadup". It is built and instantiated exactly
// once per run; every invocation's state is found through the context
// passed to the guest call (see WithBridge), so the same host module
// instance serves every worker concurrently.
func BuildHostModule(rt wazero.Runtime) wazero.HostModuleBuilder {
	h := rt.NewHostModuleBuilder("wadup")

	h.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, namePtr, nameLen, schemaPtr, schemaLen uint32) int32 {
			b := bridgeFromContext(ctx)
			name, ok := readString(mod, namePtr, nameLen)
			if !ok {
				return errOutOfRange
			}
			schemaText, ok := readString(mod, schemaPtr, schemaLen)
			if !ok {
				return errOutOfRange
			}
			schema, err := decodeSchema(name + "\n" + schemaText)
			if err != nil {
				return errGeneric
			}
			handle, err := b.declareFn(schema)
			if err != nil {
				if _, isConflict := err.(*sink.ErrSchemaConflict); isConflict {
					return errSchemaConflict
				}
				return errGeneric
			}
			b.rememberTable(schema.Name, handle)
			return int32(handle)
		}).
		Export("declare_table")

	h.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, tablePtr, tableLen, valuesPtr, valuesLen uint32) int32 {
			b := bridgeFromContext(ctx)
			tableName, ok := readString(mod, tablePtr, tableLen)
			if !ok {
				return errOutOfRange
			}
			raw, ok := readBytes(mod, valuesPtr, valuesLen)
			if !ok {
				return errOutOfRange
			}
			values, err := decodeValues(raw)
			if err != nil {
				return errRowShape
			}
			handle, ok := b.handleForTable(tableName)
			if !ok {
				return errBadHandle
			}
			b.addRow(tableName, handle, values)
			return errOK
		}).
		Export("insert_row")

	h.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, dataPtr, dataLen, namePtr, nameLen uint32) int32 {
			b := bridgeFromContext(ctx)
			data, ok := readBytes(mod, dataPtr, dataLen)
			if !ok {
				return errOutOfRange
			}
			filename, ok := readString(mod, namePtr, nameLen)
			if !ok {
				return errOutOfRange
			}
			owned := make([]byte, len(data))
			copy(owned, data)
			b.addEmission(PendingEmission{Filename: filename, Owned: owned})
			return errOK
		}).
		Export("emit_bytes")

	h.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, offset, length, namePtr, nameLen uint32) int32 {
			b := bridgeFromContext(ctx)
			filename, ok := readString(mod, namePtr, nameLen)
			if !ok {
				return errOutOfRange
			}
			_, buf := b.currentArtifact()
			if uint64(offset)+uint64(length) > uint64(buf.Len()) {
				return errOutOfRange
			}
			b.addEmission(PendingEmission{Filename: filename, IsSlice: true, Offset: int(offset), Length: int(length)})
			return errOK
		}).
		Export("emit_slice")

	h.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module) uint32 {
			b := bridgeFromContext(ctx)
			_, buf := b.currentArtifact()
			return uint32(buf.Len())
		}).
		Export("payload_size")

	h.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, offset, length, destPtr uint32) int32 {
			b := bridgeFromContext(ctx)
			_, buf := b.currentArtifact()
			data, err := buf.Read(int(offset), int(length))
			if err != nil {
				return errOutOfRange
			}
			if !mod.Memory().Write(destPtr, data) {
				return errOutOfRange
			}
			return errOK
		}).
		Export("read_payload")

	h.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, destPtr uint32) int32 {
			b := bridgeFromContext(ctx)
			id := b.currentID()
			if !mod.Memory().Write(destPtr, id[:]) {
				return errOutOfRange
			}
			return errOK
		}).
		Export("current_id")

	return h
}

func readBytes(mod api.Module, ptr, length uint32) ([]byte, bool) {
	return mod.Memory().Read(ptr, length)
}

func readString(mod api.Module, ptr, length uint32) (string, bool) {
	b, ok := readBytes(mod, ptr, length)
	if !ok {
		return "", false
	}
	return string(b), true
}

// handleForTable maps a guest's table name back to the handle declare_table
// returned for it (the wire format re-identifies the table by name on
// every insert_row call, not by the numeric handle).
func (b *Bridge) handleForTable(name string) (sink.TableHandle, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.declared[name]
	return h, ok
}
