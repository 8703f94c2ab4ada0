// Package kernelcore assembles the subsystem packages under internal/ into a
// bootable kernel core: clock and SMP bring-up, interrupt dispatch, a
// simulated PCI bus carrying an RTL8139 NIC and a UHCI host controller, and
// the network stack that rides on top of them. A params struct with
// defaults and a constructor wires everything in dependency order, with
// accessor methods over the result.
package kernelcore

import (
	"context"
	"fmt"
	"time"

	"github.com/behrlich/kernelcore/internal/acpi"
	"github.com/behrlich/kernelcore/internal/apic"
	"github.com/behrlich/kernelcore/internal/boot"
	"github.com/behrlich/kernelcore/internal/clock"
	"github.com/behrlich/kernelcore/internal/exec"
	"github.com/behrlich/kernelcore/internal/gdt"
	"github.com/behrlich/kernelcore/internal/heap"
	"github.com/behrlich/kernelcore/internal/irq"
	"github.com/behrlich/kernelcore/internal/kerr"
	"github.com/behrlich/kernelcore/internal/klog"
	"github.com/behrlich/kernelcore/internal/kmetrics"
	"github.com/behrlich/kernelcore/internal/krand"
	"github.com/behrlich/kernelcore/internal/mmio"
	"github.com/behrlich/kernelcore/internal/netframe"
	"github.com/behrlich/kernelcore/internal/pci"
	"github.com/behrlich/kernelcore/internal/rtl8139"
	"github.com/behrlich/kernelcore/internal/smp"
	"github.com/behrlich/kernelcore/internal/tcp"
	"github.com/behrlich/kernelcore/internal/uhci"
)

const (
	// vendor/device IDs for the two simulated PCI functions: QEMU's default
	// virtual NIC and south-bridge USB controller.
	rtl8139Vendor, rtl8139Device = 0x10ec, 0x8139
	uhciVendor, uhciDevice       = 0x8086, 0x7020

	rtcIRQVector  = 0x28 // legacy PIC/IOAPIC vector 8, remapped
	nicIRQVector  = 0x2b
	uhciIRQVector = 0x2c

	tickFreq = clock.TickFreq

	heapSize = 1 << 20 // 1MiB kernel heap, matching nothing in particular on
	// real hardware; just large enough to host a handful of driver buffers.
)

// BootConfig controls what Boot brings up. The zero value plus
// DefaultBootConfig's fill-ins produces a fully simulated machine with no
// bootloader-supplied information, the way running under a bare
// "qemu -kernel" without -initrd still produces a usable (if memoryless)
// BootInfo.
type BootConfig struct {
	// Multiboot2Magic/Multiboot2Info, if both set, are parsed for the ACPI
	// RSDP pointer and memory map. Either may be left zero to skip boot-info
	// parsing entirely (e.g. in tests that only want the driver stack).
	Multiboot2Magic uint32
	Multiboot2Info  []byte

	// ACPIMemory backs physical-address reads for RSDT/MADT table walking.
	// Left nil, ACPI discovery is skipped and NumCPUs governs SMP bring-up
	// instead of the MADT's local APIC entries.
	ACPIMemory acpi.Memory

	// NumCPUs is the number of CPUs to bring up when ACPI discovery isn't
	// available (or reports none). Defaults to 1.
	NumCPUs int

	// MACAddress is the station address the simulated RTL8139 reports.
	MACAddress [6]byte
	LocalIP    netframe.IPv4Addr

	RandSeed int64
	Logger   *klog.Logger
}

// DefaultBootConfig returns a BootConfig describing a single-CPU machine
// with no bootloader-supplied ACPI tables, a fixed MAC, and 192.168.2.2 as
// the kernel's address — matching the fixture IPs kernelcore's own TCP
// tests dial against.
func DefaultBootConfig() BootConfig {
	return BootConfig{
		NumCPUs:    1,
		MACAddress: [6]byte{0x52, 0x54, 0x00, 0x12, 0x34, 0x56},
		LocalIP:    netframe.IPv4Addr{192, 168, 2, 2},
		RandSeed:   1,
	}
}

// Kernel is the fully wired result of Boot: every subsystem constructed,
// interrupt-connected, and (via Run) driven forward.
type Kernel struct {
	cfg BootConfig
	log *klog.Logger

	monotonic  *clock.Monotonic
	rtc        *clock.RTC
	requester  *clock.WakeupRequester
	wakeupSvc  *clock.WakeupService
	wakeupList *clock.InterruptWakeupList

	heap *heap.Heap
	rng  *krand.Source

	gdtTable [3]gdt.Segment

	pciBus   *pci.ConfigSpace
	apicDev  *apic.Apic
	irqTable *irq.Table
	topology *smp.Topology
	dispatch *smp.Dispatcher
	executor *exec.Executor

	nic  *rtl8139.Device
	uhci *uhci.Controller

	tcp *tcp.Tcp

	metrics *kmetrics.Metrics

	// bgCtx governs every background goroutine Boot starts before it
	// returns (the RTC tick source, the wakeup service drain loop) plus
	// everything Run adds on top. cancel tears all of it down.
	bgCtx  context.Context
	cancel context.CancelFunc
}

// Boot wires every subsystem in dependency order and returns a Kernel ready
// for Run. It never touches real hardware: every register file is an
// internal/mmio.Registers backed by a Go slice, the way internal/rtl8139 and
// internal/uhci's own tests construct their devices.
func Boot(ctx context.Context, cfg BootConfig) (*Kernel, error) {
	if cfg.NumCPUs <= 0 {
		cfg.NumCPUs = 1
	}
	log := cfg.Logger
	if log == nil {
		log = klog.Default()
	}

	var rsdp acpi.RSDP
	var haveRSDP bool
	if cfg.Multiboot2Magic != 0 && cfg.Multiboot2Info != nil {
		info, err := boot.ParseBootInfo(cfg.Multiboot2Magic, cfg.Multiboot2Info)
		if err != nil {
			return nil, kerr.Wrap("kernelcore.Boot.parseBootInfo", err)
		}
		if r, ok := info.GetRSDP(); ok {
			rsdp, haveRSDP = r, true
			log.Info("multiboot2: found ACPI RSDP tag")
		}
		if entries, ok := info.GetMemoryMapEntries(); ok {
			log.Info("multiboot2: memory map parsed", "regions", len(entries))
		}
	} else {
		log.Info("no multiboot2 info supplied, booting with simulated defaults")
	}

	numCPUs := cfg.NumCPUs
	if haveRSDP && cfg.ACPIMemory != nil {
		if madt, err := discoverMADT(rsdp, cfg.ACPIMemory); err == nil {
			n := countLocalApics(madt)
			if n > 0 {
				numCPUs = n
			}
		} else {
			log.Warn("ACPI MADT parse failed, falling back to configured CPU count", "error", err)
		}
	}

	gdtTable := gdt.StandardTable()
	log.Debug("gdt: standard flat table generated", "entries", len(gdtTable))

	monotonic := clock.NewMonotonic(tickFreq)
	rtcRegs := mmio.New(0x2)
	rtcDev, err := clock.NewRTC(rtcRegs)
	if err != nil {
		return nil, kerr.Wrap("kernelcore.Boot.newRTC", err)
	}
	requester, wakeupSvc, wakeupList := clock.NewWakeupHandlers()

	arena := make([]byte, heapSize)
	kheap := heap.New(arena)

	apicRegs := mmio.New(0x400)
	apicDev := apic.New(apicRegs)
	irqTable := irq.NewTable(apicDev)
	irqTable.Register(rtcIRQVector, func(*irq.CPUState) {
		monotonic.Increment()
		rtcDev.ClearInterruptMask()
		wakeupList.WakeupIfNecessary(monotonic.Get())
	})

	// Every hardware-init routine below this point either sleeps on the
	// monotonic clock (uhci.Controller.Init's reset delays) or spins on it
	// (apic.BootAPIC's settling waits between IPIs), and both need the
	// wakeup service draining registrations into wakeupList before anyone
	// blocks. Start the tick source and the drain loop now, ahead of
	// BringUp/uhciCtrl.Init, rather than waiting for Run — otherwise Boot
	// deadlocks waiting on a clock nothing is advancing.
	bgCtx, cancel := context.WithCancel(ctx)
	k := &Kernel{
		cfg: cfg, log: log,
		monotonic: monotonic, rtc: rtcDev, requester: requester, wakeupSvc: wakeupSvc, wakeupList: wakeupList,
		heap: kheap, irqTable: irqTable, apicDev: apicDev,
		metrics: kmetrics.New(),
		bgCtx:   bgCtx, cancel: cancel,
	}
	go k.runRTCTicker(bgCtx)
	go func() {
		if err := wakeupSvc.Run(bgCtx); err != nil && bgCtx.Err() == nil {
			log.Error("wakeup service exited unexpectedly", "error", err)
		}
	}()

	topology := smp.NewTopology(apicDev, monotonic)
	dispatcher, err := topology.BringUp(ctx, numCPUs)
	if err != nil {
		cancel()
		return nil, kerr.Wrap("kernelcore.Boot.bringUpSMP", err)
	}
	executor := exec.NewExecutor(dispatcher)

	pciBus := pci.NewConfigSpace()
	pciBus.AddDevice(0, 3, rtl8139Vendor, rtl8139Device, pci.HeaderGeneral)
	pciBus.SetBARSize(0, 3, 0, 0xffffff00) // 256B BAR, matching the register file below
	pciBus.AddDevice(0, 4, uhciVendor, uhciDevice, pci.HeaderGeneral)
	pciBus.SetBARSize(0, 4, 4, 0xffffffe0) // 32B BAR (I/O-space UHCI window)

	nicAddr, nicHeader, ok := pciBus.FindDevice(rtl8139Vendor, rtl8139Device)
	if !ok {
		cancel()
		return nil, kerr.New("kernelcore.Boot", kerr.CodeHardwareMismatch, "simulated PCI bus lost the RTL8139 function it just added")
	}
	if err := pci.RequireGeneral(nicHeader); err != nil {
		cancel()
		return nil, kerr.Wrap("kernelcore.Boot.nic", err)
	}
	nicAddr.EnableBusMastering()
	nicRegs := mmio.New(0x100)
	nic, err := rtl8139.New(nicRegs)
	if err != nil {
		cancel()
		return nil, kerr.Wrap("kernelcore.Boot.newNIC", err)
	}
	nicRegs.WriteBytes(0, cfg.MACAddress[:])
	log.Info("rtl8139: attached", "mac", fmt.Sprintf("%x", nic.MAC()), "irq", nicAddr.IRQNum())

	uhciAddr, uhciHeader, ok := pciBus.FindDevice(uhciVendor, uhciDevice)
	if !ok {
		cancel()
		return nil, kerr.New("kernelcore.Boot", kerr.CodeHardwareMismatch, "simulated PCI bus lost the UHCI function it just added")
	}
	if err := pci.RequireGeneral(uhciHeader); err != nil {
		cancel()
		return nil, kerr.Wrap("kernelcore.Boot.uhci", err)
	}
	uhciAddr.EnableBusMastering()
	uhciRegs := mmio.New(0x20)
	uhciCtrl := uhci.NewController(uhciRegs, monotonic, requester)
	if err := uhciCtrl.Init(ctx); err != nil {
		cancel()
		return nil, kerr.Wrap("kernelcore.Boot.uhciInit", err)
	}
	log.Info("uhci: controller initialized", "irq", uhciAddr.IRQNum())

	rng := krand.New(cfg.RandSeed)
	tcpStack := tcp.New(monotonic, requester, rng, log)

	irqTable.Register(nicIRQVector, func(*irq.CPUState) { nic.HandleIRQ() })
	// uhciIRQVector is wired for when USB work is actually submitted via
	// uhciCtrl.Schedule().AppendWork; Boot/Run never call it today (no
	// enumerated device to talk to yet), so this handler currently never
	// fires. Left registered rather than omitted so a future caller that
	// does submit work gets correct completion wakeups for free.
	irqTable.Register(uhciIRQVector, func(*irq.CPUState) { uhciCtrl.Schedule().HandleIRQ() })

	k.rng = rng
	k.gdtTable = gdtTable
	k.pciBus = pciBus
	k.topology = topology
	k.dispatch = dispatcher
	k.executor = executor
	k.nic = nic
	k.uhci = uhciCtrl
	k.tcp = tcpStack
	return k, nil
}

func discoverMADT(rsdp acpi.RSDP, mem acpi.Memory) (acpi.MADT, error) {
	rsdt, err := rsdp.RSDT(mem)
	if err != nil {
		return acpi.MADT{}, err
	}
	for _, ptr := range rsdt.Pointers() {
		hdr, err := acpi.ParseSDTHeader(mem.ReadAt(ptr, 36))
		if err != nil {
			continue
		}
		if hdr.Signature() == "APIC" {
			return acpi.ParseMADT(mem, ptr)
		}
	}
	return acpi.MADT{}, kerr.New("kernelcore.discoverMADT", kerr.CodeProtocolDrop, "no MADT in RSDT")
}

func countLocalApics(madt acpi.MADT) int {
	n := 0
	for _, e := range madt.Entries() {
		if e.Kind == acpi.MadtEntryLocalApic {
			n++
		}
	}
	return n
}

// Run drives the kernel forward until ctx (or the context Boot started its
// background work under) is canceled. The RTC tick source and the wakeup
// service are already running, started by Boot so that the hardware-init
// sleeps/busy-waits it performs before Run is ever called have a clock to
// wait on; Run adds the NIC's RX/TX pumps and the simulated link that drives
// transmit completion, then runs the executor, whose Run returns once its
// task table is empty, and waits for cancellation. A real kernel's equivalent of
// this call never returns in normal operation; Run returns ctx.Err() once
// asked to stop.
func (k *Kernel) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-k.bgCtx.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()

	go k.runNetworkReceivePump(runCtx)
	go k.runNetworkTransmitPump(runCtx)
	go k.runNICLoopback(runCtx)

	k.executor.Run()

	<-runCtx.Done()
	if k.bgCtx.Err() != nil {
		return k.bgCtx.Err()
	}
	return runCtx.Err()
}

// Shutdown cancels every background goroutine started by Boot and Run.
func (k *Kernel) Shutdown() {
	if k.cancel != nil {
		k.cancel()
	}
}

// runRTCTicker simulates the periodic RTC interrupt firing at tickFreq Hz,
// each tick dispatched through the IRQ table the same way a real interrupt
// would arrive on rtcIRQVector.
func (k *Kernel) runRTCTicker(ctx context.Context) {
	period := time.Duration(float64(time.Second) / float64(tickFreq))
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			k.irqTable.Dispatch(rtcIRQVector, &irq.CPUState{ID: 0})
		}
	}
}

// ethernetCRCPlaceholder stands in for the 4-byte CRC real hardware appends
// on transmit and strips on receive; GenerateEthernet deliberately omits it
// (see internal/netframe's doc comment) and ParseEthernet requires it, so
// the boundary between "frame on the wire" and "frame in netframe" is here.
var ethernetCRCPlaceholder = [4]byte{}

// runNetworkReceivePump blocks on the NIC's receive ring, routing every
// frame through netframe's parser and into the TCP stack or the ARP
// responder, the way the original's single-threaded poll loop dispatched
// incoming packets by EtherType.
func (k *Kernel) runNetworkReceivePump(ctx context.Context) {
	for {
		payload, err := k.nic.Receive(ctx)
		if err != nil {
			return
		}
		frame := append(append([]byte{}, payload...), ethernetCRCPlaceholder[:]...)
		parsed, err := netframe.ParsePacket(frame)
		if err != nil {
			k.metrics.Drops.Add(1)
			k.log.Warn("dropping unparseable frame", "error", err)
			continue
		}
		switch {
		case parsed.ARP != nil:
			k.handleARP(*parsed.ARP)
		case parsed.IPv4 != nil:
			k.handleIPv4(ctx, *parsed.IPv4)
		default:
			k.metrics.Drops.Add(1)
		}
	}
}

func (k *Kernel) handleARP(a netframe.ARP) {
	op, err := a.Operation()
	if err != nil || op != netframe.ArpRequest {
		return
	}
	var target netframe.IPv4Addr
	copy(target[:], a.TargetProtocolAddress())
	if target != k.cfg.LocalIP {
		return
	}
	var senderMAC [6]byte
	copy(senderMAC[:], a.SenderHardwareAddress())
	var senderIP netframe.IPv4Addr
	copy(senderIP[:], a.SenderProtocolAddress())

	reply := netframe.GenerateARP(netframe.ArpParams{
		HardwareType:          1,
		ProtocolType:          uint16(netframe.EtherTypeIPv4),
		HardwareAddressLength: 6,
		ProtocolAddressLength: 4,
		Operation:             netframe.ArpReply,
		SenderHardwareAddress: k.cfg.MACAddress,
		SenderProtocolAddress: k.cfg.LocalIP,
		TargetHardwareAddress: senderMAC,
		TargetProtocolAddress: senderIP,
	})
	eth := netframe.GenerateEthernet(netframe.EthernetParams{
		DestMAC:   senderMAC,
		SourceMAC: k.cfg.MACAddress,
		EtherType: netframe.EtherTypeARP,
		Payload:   reply,
	})
	if err := k.nic.Transmit(context.Background(), eth); err != nil {
		k.log.Warn("arp reply transmit failed", "error", err)
	}
}

func (k *Kernel) handleIPv4(ctx context.Context, ip netframe.IPv4) {
	if ip.Protocol() != netframe.IPv4ProtocolTCP {
		return
	}
	seg, err := tcp.ParseSegment(ip.Payload())
	if err != nil {
		k.metrics.Drops.Add(1)
		return
	}
	resp, err := k.tcp.HandleSegment(ctx, seg, ip.SourceIP(), ip.DestIP())
	if err != nil || resp == nil {
		return
	}
	k.transmitIPv4(ip.SourceIP(), ip.DestIP(), resp)
}

func (k *Kernel) transmitIPv4(destIP, sourceIP netframe.IPv4Addr, tcpSegment []byte) {
	ipPacket := netframe.GenerateIPv4(tcpSegment, netframe.IPv4ProtocolTCP, sourceIP, destIP)
	eth := netframe.GenerateEthernet(netframe.EthernetParams{
		DestMAC:   [6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, // no ARP cache yet: broadcast
		SourceMAC: k.cfg.MACAddress,
		EtherType: netframe.EtherTypeIPv4,
		Payload:   ipPacket,
	})
	if err := k.nic.Transmit(context.Background(), eth); err != nil {
		k.log.Warn("ipv4 transmit failed", "error", err)
	}
}

// runNetworkTransmitPump drains the TCP stack's outgoing queue and hands
// each packet to the NIC, the Go-goroutine equivalent of the original's
// OutgoingPoller future being awaited by its own dedicated task.
func (k *Kernel) runNetworkTransmitPump(ctx context.Context) {
	for {
		pkt, err := k.tcp.Service(ctx)
		if err != nil {
			return
		}
		k.transmitIPv4(pkt.RemoteIP, pkt.LocalIP, pkt.Payload)
	}
}

// runNICLoopback stands in for the missing far end of the wire: nic.Transmit
// blocks until something calls nic.CompleteTransmit on its slot, which on
// real hardware is the device signaling DMA-done. With no physical link to
// wait on, this periodically completes every transmit slot and dispatches
// nicIRQVector, the way the RTC ticker stands in for a real RTC. There is no
// simulated peer on the other end of the link to receive from, so
// nic.Receive stays parked until an external bridge calls nic.InjectPacket;
// Run does not fabricate inbound traffic.
func (k *Kernel) runNICLoopback(ctx context.Context) {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for i := 0; i < rtl8139.TxSlotCount; i++ {
				k.nic.CompleteTransmit(i)
			}
			k.irqTable.Dispatch(nicIRQVector, &irq.CPUState{ID: 0})
		}
	}
}

// Metrics returns the kernel-wide counters (IRQ counts, drops, executor
// polls) accumulated since Boot.
func (k *Kernel) Metrics() *kmetrics.Metrics { return k.metrics }

// Monotonic returns the kernel's tick counter, for callers that want to
// read the current time without going through clock.Sleep.
func (k *Kernel) Monotonic() *clock.Monotonic { return k.monotonic }

// NIC returns the kernel's simulated network device, primarily for tests
// that want to inject frames directly rather than driving a real link.
func (k *Kernel) NIC() *rtl8139.Device { return k.nic }

// TCP returns the kernel's TCP stack, for callers constructing listeners.
func (k *Kernel) TCP() *tcp.Tcp { return k.tcp }

// GDT returns the kernel's generated flat-model segment descriptor table.
func (k *Kernel) GDT() [3]gdt.Segment { return k.gdtTable }
