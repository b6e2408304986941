package engine

import (
	"context"
	"encoding/json"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/dimworks/modhost/world"
)

// hostNamespace is the import namespace guest programs link against.
const hostNamespace = "dims"

type instanceKey struct{}

func withInstance(ctx context.Context, i *wasmInstance) context.Context {
	return context.WithValue(ctx, instanceKey{}, i)
}

// instanceFrom resolves the calling instance. Host functions are only
// reachable during Run, which always installs the instance in ctx; a nil
// result means a guest invoked a capability outside a dispatch.
func instanceFrom(ctx context.Context) *wasmInstance {
	i, _ := ctx.Value(instanceKey{}).(*wasmInstance)
	return i
}

// registerHostModule installs the "dims" capability set once per runtime.
func registerHostModule(ctx context.Context, runtime wazero.Runtime) error {
	_, err := runtime.NewHostModuleBuilder(hostNamespace).
		NewFunctionBuilder().WithFunc(hostSubscribe).Export("subscribe").
		NewFunctionBuilder().WithFunc(hostSend).Export("send").
		NewFunctionBuilder().WithFunc(hostSpawn).Export("spawn").
		NewFunctionBuilder().WithFunc(hostDespawn).Export("despawn").
		Instantiate(ctx)
	return err
}

// hostSubscribe implements dims.subscribe(name_ptr, name_len).
func hostSubscribe(ctx context.Context, mod api.Module, namePtr, nameLen uint32) {
	i := instanceFrom(ctx)
	if i == nil {
		return
	}
	name, ok := readString(mod, namePtr, nameLen)
	if !ok {
		Logger().Debug("subscribe with out-of-range name", zap.Uint64("module", uint64(i.moduleID)))
		return
	}
	i.Subscribe(name)
}

// hostSend implements dims.send(name_ptr, name_len, data_ptr, data_len).
// The payload is a JSON object of named fields; malformed payloads are
// dropped rather than faulting the dispatch.
func hostSend(ctx context.Context, mod api.Module, namePtr, nameLen, dataPtr, dataLen uint32) {
	i := instanceFrom(ctx)
	if i == nil {
		return
	}
	name, ok := readString(mod, namePtr, nameLen)
	if !ok {
		return
	}
	data, ok := readEntity(mod, dataPtr, dataLen)
	if !ok {
		Logger().Debug("send with malformed payload",
			zap.Uint64("module", uint64(i.moduleID)), zap.String("event", name))
		return
	}
	i.host.Send(i.moduleID, name, data)
}

// hostSpawn implements dims.spawn(data_ptr, data_len) -> entity id.
func hostSpawn(ctx context.Context, mod api.Module, dataPtr, dataLen uint32) uint64 {
	i := instanceFrom(ctx)
	if i == nil {
		return uint64(world.Nil)
	}
	data, ok := readEntity(mod, dataPtr, dataLen)
	if !ok {
		return uint64(world.Nil)
	}
	return uint64(i.host.SpawnEntity(i.moduleID, data))
}

// hostDespawn implements dims.despawn(entity id) -> 1 on success.
func hostDespawn(ctx context.Context, _ api.Module, id uint64) uint32 {
	i := instanceFrom(ctx)
	if i == nil {
		return 0
	}
	if i.host.DespawnEntity(i.moduleID, world.EntityID(id)) {
		return 1
	}
	return 0
}

func readString(mod api.Module, ptr, length uint32) (string, bool) {
	if length == 0 {
		return "", true
	}
	data, ok := mod.Memory().Read(ptr, length)
	if !ok {
		return "", false
	}
	return string(data), true
}

// readEntity decodes a JSON object from guest memory. A zero-length
// payload is an empty entity.
func readEntity(mod api.Module, ptr, length uint32) (world.Entity, bool) {
	if length == 0 {
		return world.Entity{}, true
	}
	raw, ok := mod.Memory().Read(ptr, length)
	if !ok {
		return nil, false
	}
	var data world.Entity
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, false
	}
	if data == nil {
		data = world.Entity{}
	}
	return data, true
}
