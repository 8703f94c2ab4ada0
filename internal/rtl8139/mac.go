package rtl8139

import "github.com/behrlich/kernelcore/internal/klog"

// MAC reads the card's hardware address from the ID registers at the base
// of the BAR (IDR0..IDR5), per the original's log_mac/get_mac.
func (d *Device) MAC() [6]byte {
	var mac [6]byte
	for i := range mac {
		mac[i] = d.regs.ReadU8(i)
	}
	return mac
}

// LogMAC logs the card's hardware address at info level.
func (d *Device) LogMAC() {
	mac := d.MAC()
	klog.Info("rtl8139: mac address", "mac", mac)
}
