package transport

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/gousb"
	"github.com/sirupsen/logrus"
)

var usbLog = logrus.WithField("component", "transport.usb")

// ADB interface identity on Android devices.
const (
	adbInterfaceClass    = 0xff
	adbInterfaceSubClass = 0x42
	adbInterfaceProtocol = 0x01
)

// Filter selects a USB device and interface. Zero-valued components are not
// filtered on, so the zero Filter matches the first device exposing any
// claimable bulk interface.
type Filter struct {
	Serial    string
	VendorID  uint16
	ProductID uint16
	Class     uint8
	SubClass  uint8
	Protocol  uint8
}

func (f Filter) String() string {
	return fmt.Sprintf("serial=%s, vid=%04x, pid=%04x, class=%02x, subclass=%02x, protocol=%02x",
		f.Serial, f.VendorID, f.ProductID, f.Class, f.SubClass, f.Protocol)
}

// ADBFilter returns a Filter matching the interface identity adbd exposes
// over USB.
func ADBFilter() Filter {
	return Filter{
		Class:    adbInterfaceClass,
		SubClass: adbInterfaceSubClass,
		Protocol: adbInterfaceProtocol,
	}
}

// interfaceSelection pinpoints a claimable interface on a device: the config,
// interface and alternate setting to claim, plus the endpoint numbers for
// each direction.
type interfaceSelection struct {
	config int
	iface  int
	alt    int
	inEp   int
	outEp  int
}

// findInterface scans a device descriptor for the first interface setting
// matching the filter that exposes both a read and a write bulk endpoint.
// Configs, interfaces and settings are visited in declaration order so
// "first match wins" is deterministic.
func findInterface(f Filter, desc *gousb.DeviceDesc) (interfaceSelection, bool) {
	if f.VendorID != 0 && uint16(desc.Vendor) != f.VendorID {
		return interfaceSelection{}, false
	}
	if f.ProductID != 0 && uint16(desc.Product) != f.ProductID {
		return interfaceSelection{}, false
	}

	cfgNums := make([]int, 0, len(desc.Configs))
	for num := range desc.Configs {
		cfgNums = append(cfgNums, num)
	}
	sort.Ints(cfgNums)

	for _, num := range cfgNums {
		cfg := desc.Configs[num]
		for _, intf := range cfg.Interfaces {
			for _, alt := range intf.AltSettings {
				if !settingMatches(f, alt) {
					continue
				}
				inEp, inOK := firstEndpoint(alt, gousb.EndpointDirectionIn)
				outEp, outOK := firstEndpoint(alt, gousb.EndpointDirectionOut)
				if !inOK || !outOK {
					continue
				}
				return interfaceSelection{
					config: cfg.Number,
					iface:  intf.Number,
					alt:    alt.Alternate,
					inEp:   inEp,
					outEp:  outEp,
				}, true
			}
		}
	}
	return interfaceSelection{}, false
}

func settingMatches(f Filter, alt gousb.InterfaceSetting) bool {
	if f.Class != 0 && uint8(alt.Class) != f.Class {
		return false
	}
	if f.SubClass != 0 && uint8(alt.SubClass) != f.SubClass {
		return false
	}
	if f.Protocol != 0 && uint8(alt.Protocol) != f.Protocol {
		return false
	}
	return true
}

// firstEndpoint returns the lowest-addressed bulk endpoint with the given
// direction. The direction-in bit of the address is what distinguishes read
// from write endpoints.
func firstEndpoint(alt gousb.InterfaceSetting, dir gousb.EndpointDirection) (int, bool) {
	addrs := make([]int, 0, len(alt.Endpoints))
	for addr := range alt.Endpoints {
		addrs = append(addrs, int(addr))
	}
	sort.Ints(addrs)

	for _, addr := range addrs {
		ep := alt.Endpoints[gousb.EndpointAddress(addr)]
		if ep.Direction == dir && ep.TransferType == gousb.TransferTypeBulk {
			return ep.Number, true
		}
	}
	return 0, false
}

// USB is a Transport over the bulk endpoints of a USB device, powered by
// libusb via gousb.
type USB struct {
	filter Filter
}

// NewUSB returns a USB transport that will connect to the first device
// matching the filter.
func NewUSB(filter Filter) *USB {
	return &USB{filter: filter}
}

func (t *USB) String() string {
	return fmt.Sprintf("usb(%s)", t.filter)
}

type usbHandle struct {
	ctx   *gousb.Context
	dev   *gousb.Device
	cfg   *gousb.Config
	intf  *gousb.Interface
	read  *gousb.InEndpoint
	write *gousb.OutEndpoint
}

func (*usbHandle) TransportHandle() {}

// Connect scans for a matching device, detaches any active kernel driver,
// claims the matching interface and resolves its endpoints. The returned
// handle owns the claimed interface 1:1; Disconnect releases everything.
func (t *USB) Connect(ctx context.Context) (Handle, error) {
	usbLog.WithField("filter", t.filter.String()).Debug("scanning for device")

	uctx := gousb.NewContext()

	dev, sel, err := t.openMatching(uctx)
	if err != nil {
		uctx.Close()
		return nil, err
	}

	h, err := t.claim(uctx, dev, sel)
	if err != nil {
		dev.Close()
		uctx.Close()
		return nil, err
	}
	return h, nil
}

// openMatching opens every descriptor-level match, then picks the first one
// that also satisfies the serial filter. The losers are closed immediately.
func (t *USB) openMatching(uctx *gousb.Context) (*gousb.Device, interfaceSelection, error) {
	selections := make(map[*gousb.DeviceDesc]interfaceSelection)
	devs, err := uctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		sel, ok := findInterface(t.filter, desc)
		if ok {
			selections[desc] = sel
		}
		return ok
	})
	if err != nil && len(devs) == 0 {
		return nil, interfaceSelection{}, classifyUSB(OpConnect, err)
	}

	var chosen *gousb.Device
	var chosenSel interfaceSelection
	for _, dev := range devs {
		if chosen == nil && t.serialMatches(dev) {
			chosen = dev
			chosenSel = selections[dev.Desc]
			continue
		}
		dev.Close()
	}

	if chosen == nil {
		return nil, interfaceSelection{}, opError(OpConnect,
			fmt.Errorf("%w: no match for filter %s", ErrDeviceNotFound, t.filter), false)
	}

	usbLog.WithFields(logrus.Fields{
		"vid": fmt.Sprintf("%04x", uint16(chosen.Desc.Vendor)),
		"pid": fmt.Sprintf("%04x", uint16(chosen.Desc.Product)),
	}).Debug("found device")
	return chosen, chosenSel, nil
}

func (t *USB) serialMatches(dev *gousb.Device) bool {
	if t.filter.Serial == "" {
		return true
	}
	serial, err := dev.SerialNumber()
	if err != nil {
		usbLog.WithError(err).Debug("could not read serial number")
		return false
	}
	return serial == t.filter.Serial
}

func (t *USB) claim(uctx *gousb.Context, dev *gousb.Device, sel interfaceSelection) (*usbHandle, error) {
	// Ask libusb to detach an active kernel driver before the claim and
	// reattach it on release.
	if err := dev.SetAutoDetach(true); err != nil {
		return nil, classifyUSB(OpConnect, err)
	}

	cfg, err := dev.Config(sel.config)
	if err != nil {
		return nil, classifyUSB(OpConnect, err)
	}

	usbLog.WithFields(logrus.Fields{"config": sel.config, "interface": sel.iface, "alt": sel.alt}).
		Debug("claiming interface")

	intf, err := cfg.Interface(sel.iface, sel.alt)
	if err != nil {
		cfg.Close()
		return nil, classifyUSB(OpConnect, err)
	}

	read, err := intf.InEndpoint(sel.inEp)
	if err != nil {
		intf.Close()
		cfg.Close()
		return nil, classifyUSB(OpConnect, err)
	}
	write, err := intf.OutEndpoint(sel.outEp)
	if err != nil {
		intf.Close()
		cfg.Close()
		return nil, classifyUSB(OpConnect, err)
	}

	usbLog.WithFields(logrus.Fields{"read": read.Desc.Address, "write": write.Desc.Address}).
		Debug("resolved endpoints")

	return &usbHandle{ctx: uctx, dev: dev, cfg: cfg, intf: intf, read: read, write: write}, nil
}

// Disconnect releases the claimed interface and closes the device and
// context. Teardown continues past individual failures so a claimed
// interface is never left behind; the first error is reported.
func (t *USB) Disconnect(ctx context.Context, h Handle) error {
	uh, err := t.handle(h, OpDisconnect)
	if err != nil {
		return err
	}

	usbLog.Debug("releasing interface")
	uh.intf.Close()

	var firstErr error
	if err := uh.cfg.Close(); err != nil {
		firstErr = err
	}
	if err := uh.dev.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := uh.ctx.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr != nil {
		return classifyUSB(OpDisconnect, firstErr)
	}
	return nil
}

// Send writes the whole buffer to the device's write endpoint.
func (t *USB) Send(ctx context.Context, h Handle, data []byte) error {
	uh, err := t.handle(h, OpSend)
	if err != nil {
		return err
	}

	usbLog.WithFields(logrus.Fields{"endpoint": uh.write.Desc.Address, "len": len(data)}).Debug("writing data")
	if logrus.IsLevelEnabled(logrus.TraceLevel) {
		usbLog.Tracef(">>> % x", data)
	}

	if _, err := uh.write.WriteContext(ctx, data); err != nil {
		return classifyUSB(OpSend, err)
	}
	return nil
}

// Recv performs a single bulk read of at most n bytes.
func (t *USB) Recv(ctx context.Context, h Handle, n int) ([]byte, error) {
	uh, err := t.handle(h, OpRecv)
	if err != nil {
		return nil, err
	}

	usbLog.WithFields(logrus.Fields{"endpoint": uh.read.Desc.Address, "len": n}).Debug("reading data")

	buf := make([]byte, n)
	read, err := uh.read.ReadContext(ctx, buf)
	if err != nil {
		return nil, classifyUSB(OpRecv, err)
	}

	if logrus.IsLevelEnabled(logrus.TraceLevel) {
		usbLog.Tracef("<<< % x", buf[:read])
	}
	return buf[:read], nil
}

func (t *USB) handle(h Handle, op Op) (*usbHandle, error) {
	uh, ok := h.(*usbHandle)
	if !ok || uh.dev == nil {
		return nil, opError(op, ErrHandleRequired, false)
	}
	return uh, nil
}

// classifyUSB translates a libusb-level failure into the transport error
// vocabulary: timeout, device gone, access denied, or generic.
func classifyUSB(op Op, err error) *Error {
	switch {
	case errors.Is(err, gousb.TransferTimedOut), errors.Is(err, gousb.ErrorTimeout), errors.Is(err, context.DeadlineExceeded):
		return opError(op, err, true)
	case errors.Is(err, gousb.ErrorNoDevice), errors.Is(err, gousb.ErrorNotFound):
		return opError(op, fmt.Errorf("%w: %v", ErrDeviceNotFound, err), false)
	case errors.Is(err, gousb.ErrorAccess), errors.Is(err, gousb.ErrorBusy):
		return opError(op, fmt.Errorf("%w: %v", ErrAccessDenied, err), false)
	default:
		return opError(op, err, false)
	}
}
