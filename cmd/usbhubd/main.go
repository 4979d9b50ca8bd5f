/* usbhub - host-side USB device management core
 *
 * usbhubd is a minimal demonstration binary: it wires a Supervisor for
 * a given VID:PID and prints every text line an attached device sends,
 * prefixed with the device's serial, until interrupted.
 */

package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/jittercompany/usbhub"
)

func main() {
	vid := flag.String("vid", "", "vendor ID, hex (e.g. 0483)")
	pid := flag.String("pid", "", "product ID, hex (e.g. a26d)")
	confPath := flag.String("conf", "", "optional INI config overlay")
	flag.Parse()

	vendorID, err := strconv.ParseUint(*vid, 16, 16)
	if err != nil {
		usbhub.Log.Exit(0, "invalid -vid: %s", err)
	}

	productID, err := strconv.ParseUint(*pid, 16, 16)
	if err != nil {
		usbhub.Log.Exit(0, "invalid -pid: %s", err)
	}

	cfg := usbhub.NewConfig(uint16(vendorID), uint16(productID))

	if *confPath != "" {
		cfg, err = usbhub.LoadConfigFile(*confPath, cfg)
		if err != nil {
			usbhub.Log.Exit(0, "%s", err)
		}
	}

	sup, err := usbhub.New(cfg, func(dev *usbhub.Device) {
		dev.OnText(func(line string) {
			fmt.Printf("[%s] %s\n", dev.Serial(), line)
		})
	})
	if err != nil {
		usbhub.Log.Exit(0, "%s", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	sup.Close()
}
