package main

import (
	"context"

	"hptvm/internal/fault"
	"hptvm/internal/vmconst"
	"hptvm/internal/vmcore"
	"hptvm/internal/vmspace"
)

// defineSyntheticProcess builds one address space with a code region,
// a heap region, and a stack, the same shape original_source's test
// harnesses set up before driving faults through vm_fault.
func defineSyntheticProcess(k *vmcore.Kernel, codePages, heapPages int) (*vmspace.Space, uintptr) {
	as := vmspace.Create()

	codeBase := uintptr(0x00400000)
	heapBase := codeBase + uintptr(codePages)*vmconst.PageSize + vmconst.PageSize

	must(vmspace.DefineRegion(as, codeBase, uintptr(codePages)*vmconst.PageSize, true, false, true))
	must(vmspace.DefineRegion(as, heapBase, uintptr(heapPages)*vmconst.PageSize, true, true, false))

	sp, err := vmspace.DefineStack(as)
	must(err)

	k.Activate(as)
	return as, sp
}

// touchEveryPage drives one read fault per page of every region in as,
// simulating the first access to each page of a freshly started
// process, then prints a summary of what the fault ring recorded.
func touchEveryPage(k *vmcore.Kernel, as *vmspace.Space) {
	ctx := fault.WithTraceID(context.Background(), "vmctl-demo")
	for _, r := range as.Regions() {
		for i := uintptr(0); i < r.NPages; i++ {
			addr := r.VBase + i*vmconst.PageSize
			if err := k.Fault(ctx, as, fault.Read, addr); err != nil {
				k.Logger.Sugar().Warnf("fault at 0x%x: %v", addr, err)
			}
		}
	}

	for _, rec := range k.RecentFaults() {
		k.Logger.Sugar().Infof("fault as=%d vpn=0x%x outcome=%s", rec.ASID, rec.VPN, rec.Outcome)
	}
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
