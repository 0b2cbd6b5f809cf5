//go:build arm64 && cgo

package kernel

/*
#cgo LDFLAGS: -lsel4
#include <sel4/sel4.h>
*/
import "C"

// sel4Invoker issues real seL4 invocations via libsel4. The register
// layout, message tag encoding, and trap sequence are entirely libsel4's
// concern; this file only maps Invoker's by-effect methods onto the
// corresponding seL4_* calls.
type sel4Invoker struct{}

// NewSel4Invoker returns the libsel4-backed Invoker for arm64 builds.
func NewSel4Invoker() Invoker {
	return sel4Invoker{}
}

func (sel4Invoker) UntypedRetype(untyped Cap, objType ObjectType, sizeBits uint8, root Cap, index uint64, depth uint8, offset uint64, count uint64) int32 {
	return int32(C.seL4_Untyped_Retype(
		C.seL4_CPtr(untyped),
		C.int(sel4ObjectType(objType)),
		C.seL4_Word(sizeBits),
		C.seL4_CPtr(root),
		C.seL4_Word(index),
		C.seL4_Word(depth),
		C.seL4_Word(offset),
		C.seL4_Word(count),
	))
}

func (sel4Invoker) CNodeCopy(root Cap, slot uint64, depth uint8, srcRoot Cap, srcSlot uint64, srcDepth uint8, rights Rights) int32 {
	return int32(C.seL4_CNode_Copy(
		C.seL4_CPtr(root), C.seL4_Word(slot), C.seL4_Word(depth),
		C.seL4_CPtr(srcRoot), C.seL4_Word(srcSlot), C.seL4_Word(srcDepth),
		C.seL4_CapRights_t{words: [1]C.seL4_Word{C.seL4_Word(rights)}},
	))
}

func (sel4Invoker) CNodeMint(root Cap, slot uint64, depth uint8, srcRoot Cap, srcSlot uint64, srcDepth uint8, rights Rights, badge uint64) int32 {
	return int32(C.seL4_CNode_Mint(
		C.seL4_CPtr(root), C.seL4_Word(slot), C.seL4_Word(depth),
		C.seL4_CPtr(srcRoot), C.seL4_Word(srcSlot), C.seL4_Word(srcDepth),
		C.seL4_CapRights_t{words: [1]C.seL4_Word{C.seL4_Word(rights)}},
		C.seL4_Word(badge),
	))
}

func (sel4Invoker) CNodeDelete(root Cap, slot uint64, depth uint8) int32 {
	return int32(C.seL4_CNode_Delete(C.seL4_CPtr(root), C.seL4_Word(slot), C.seL4_Word(depth)))
}

func (sel4Invoker) TCBSetIPCBuffer(tcb Cap, vaddr uint64, frame Cap) int32 {
	return int32(C.seL4_TCB_SetIPCBuffer(C.seL4_CPtr(tcb), C.seL4_Word(vaddr), C.seL4_CPtr(frame)))
}

func (sel4Invoker) TCBSetFaultHandler(tcb Cap, badgedEP Cap, cspaceRoot Cap, guard uint64, vspace Cap) int32 {
	return int32(C.seL4_TCB_SetSpace(
		C.seL4_CPtr(tcb), C.seL4_CPtr(badgedEP),
		C.seL4_CPtr(cspaceRoot), C.seL4_Word(guard),
		C.seL4_CPtr(vspace), C.seL4_Word(0),
	))
}

func (sel4Invoker) TCBSuspend(tcb Cap) int32 {
	return int32(C.seL4_TCB_Suspend(C.seL4_CPtr(tcb)))
}

func (sel4Invoker) PageMap(objType ObjectType, frame Cap, vspace Cap, vaddr uint64, rights Rights, attrs VMAttributes) int32 {
	switch objType {
	case ObjectPageTable:
		return int32(C.seL4_ARM_PageTable_Map(C.seL4_CPtr(frame), C.seL4_CPtr(vspace), C.seL4_Word(vaddr), C.seL4_ARM_VMAttributes(attrs)))
	case ObjectPageDirectory:
		return int32(C.seL4_ARM_PageDirectory_Map(C.seL4_CPtr(frame), C.seL4_CPtr(vspace), C.seL4_Word(vaddr), C.seL4_ARM_VMAttributes(attrs)))
	case ObjectPageUpperDirectory:
		return int32(C.seL4_ARM_PageUpperDirectory_Map(C.seL4_CPtr(frame), C.seL4_CPtr(vspace), C.seL4_Word(vaddr), C.seL4_ARM_VMAttributes(attrs)))
	default:
		return int32(C.seL4_ARM_Page_Map(
			C.seL4_CPtr(frame), C.seL4_CPtr(vspace), C.seL4_Word(vaddr),
			C.seL4_CapRights_t{words: [1]C.seL4_Word{C.seL4_Word(rights)}},
			C.seL4_ARM_VMAttributes(attrs),
		))
	}
}

func (sel4Invoker) EndpointCall(ep Cap, msg Message) (Message, int32) {
	writeMR(msg)
	tag := C.seL4_Call(C.seL4_CPtr(ep), sel4Tag(msg))
	return readMR(tag), 0
}

func (sel4Invoker) EndpointNBSend(ep Cap, msg Message) int32 {
	writeMR(msg)
	C.seL4_NBSend(C.seL4_CPtr(ep), sel4Tag(msg))
	return 0
}

func (sel4Invoker) EndpointRecv(ep Cap) (Message, int32) {
	var sender C.seL4_Word
	tag := C.seL4_Recv(C.seL4_CPtr(ep), &sender)
	m := readMR(tag)
	m.Badge = uint64(sender)
	return m, 0
}

func (sel4Invoker) EndpointNBRecv(ep Cap) (Message, bool, int32) {
	var sender C.seL4_Word
	tag := C.seL4_NBRecv(C.seL4_CPtr(ep), &sender)
	m := readMR(tag)
	m.Badge = uint64(sender)
	return m, m.Length > 0 || m.Label != 0, 0
}

func (sel4Invoker) EndpointPoll(ep Cap) (Message, bool, int32) {
	var sender C.seL4_Word
	tag := C.seL4_Poll(C.seL4_CPtr(ep), &sender)
	m := readMR(tag)
	m.Badge = uint64(sender)
	return m, m.Length > 0 || m.Label != 0, 0
}

func (sel4Invoker) EndpointReply(msg Message) int32 {
	writeMR(msg)
	C.seL4_Reply(sel4Tag(msg))
	return 0
}

func (sel4Invoker) NotificationSignal(ntfn Cap) int32 {
	C.seL4_Signal(C.seL4_CPtr(ntfn))
	return 0
}

func (sel4Invoker) NotificationWait(ntfn Cap) (uint64, int32) {
	var sender C.seL4_Word
	C.seL4_Wait(C.seL4_CPtr(ntfn), &sender)
	return uint64(sender), 0
}

func (sel4Invoker) CacheMaintenance(op CacheOp, vspace Cap, start, end uint64) int32 {
	switch op {
	case CacheClean:
		return int32(C.seL4_ARM_VSpace_Clean_Data(C.seL4_CPtr(vspace), C.seL4_Word(start), C.seL4_Word(end)))
	case CacheInvalidate:
		return int32(C.seL4_ARM_VSpace_Invalidate_Data(C.seL4_CPtr(vspace), C.seL4_Word(start), C.seL4_Word(end)))
	case CacheCleanInvalidate:
		return int32(C.seL4_ARM_VSpace_CleanInvalidate_Data(C.seL4_CPtr(vspace), C.seL4_Word(start), C.seL4_Word(end)))
	default: // CacheUnifyInstruction
		return int32(C.seL4_ARM_VSpace_Unify_Instruction(C.seL4_CPtr(vspace), C.seL4_Word(start), C.seL4_Word(end)))
	}
}

func sel4ObjectType(t ObjectType) C.int {
	switch t {
	case ObjectEndpoint:
		return C.seL4_EndpointObject
	case ObjectNotification:
		return C.seL4_NotificationObject
	case ObjectTCB:
		return C.seL4_TCBObject
	case ObjectCNode:
		return C.seL4_CapTableObject
	case ObjectPageTable:
		return C.seL4_ARM_PageTableObject
	case ObjectPageDirectory:
		return C.seL4_ARM_PageDirectoryObject
	case ObjectPageUpperDirectory:
		return C.seL4_ARM_PageUpperDirectoryObject
	case ObjectVSpace:
		return C.seL4_ARM_VSpaceObject
	default: // ObjectFrame
		return C.seL4_ARM_SmallPageObject
	}
}

func sel4Tag(msg Message) C.seL4_MessageInfo_t {
	return C.seL4_MessageInfo_new(C.seL4_Word(msg.Label), 0, 0, C.seL4_Word(msg.Length))
}

func writeMR(msg Message) {
	for i := 0; i < msg.Length && i < MaxMessageWords; i++ {
		C.seL4_SetMR(C.int(i), C.seL4_Word(msg.Words[i]))
	}
}

func readMR(tag C.seL4_MessageInfo_t) Message {
	length := int(C.seL4_MessageInfo_get_length(tag))
	m := Message{Label: uint64(C.seL4_MessageInfo_get_label(tag)), Length: length}
	for i := 0; i < length && i < MaxMessageWords; i++ {
		m.Words[i] = uint64(C.seL4_GetMR(C.int(i)))
	}
	return m
}
