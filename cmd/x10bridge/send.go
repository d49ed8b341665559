package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-x10/internal/cm11"
	"github.com/nerrad567/gray-logic-x10/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-x10/internal/x10"
)

// sendRequest is a parsed "send" invocation.
type sendRequest struct {
	target   string // "A1", or a house letter for house-wide functions
	function x10.Function
	dims     int
}

func newSendCmd(configPath func() string) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "send ADDRESS FUNCTION [DIMS]",
		Short: "Transmit one X10 function and exit",
		Long: `Open the gateway, transmit one function and close it again.

ADDRESS is a house/unit address such as A1, or a house letter for the
house-wide functions (all_units_off, all_lights_on, all_lights_off).
DIMS (1-22) is required for dim and bright.

Examples:
  x10bridge send A1 on
  x10bridge send B3 dim 11
  x10bridge send C all_lights_off`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := parseSendArgs(args)
			if err != nil {
				return err
			}

			cfg, err := loadConfig(configPath())
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Gateway.Port = port
			}

			gw, err := cm11.New(cm11.Config{
				PortName:       cfg.Gateway.Port,
				MonitoredHouse: cfg.MonitoredHouseCode(),
			})
			if err != nil {
				return err
			}
			gw.SetLogger(logging.New(cfg.Logging, version).Component("cm11"))

			return sendOnce(gw, req, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "Serial port (overrides gateway.port)")
	return cmd
}

// parseSendArgs validates ADDRESS FUNCTION [DIMS] without touching the port.
func parseSendArgs(args []string) (sendRequest, error) {
	fn, err := x10.ParseFunction(args[1])
	if err != nil {
		return sendRequest{}, err
	}

	req := sendRequest{function: fn}

	if fn.IsHouseWide() {
		// Accept "C" as well as a unit address such as "C4".
		house, houseErr := x10.ParseHouse(args[0])
		if houseErr != nil {
			addr, addrErr := x10.ParseAddress(args[0])
			if addrErr != nil {
				return sendRequest{}, houseErr
			}
			house = addr.House
		}
		req.target = string(house)
	} else {
		addr, addrErr := x10.ParseAddress(args[0])
		if addrErr != nil {
			return sendRequest{}, addrErr
		}
		req.target = addr.String()
	}

	switch {
	case fn.TakesDims() && len(args) < 3:
		return sendRequest{}, fmt.Errorf("%w: %s needs DIMS (1-%d)", x10.ErrInvalidDims, fn, x10.MaxDims)
	case !fn.TakesDims() && len(args) == 3:
		return sendRequest{}, fmt.Errorf("%w: %s takes no DIMS", x10.ErrInvalidDims, fn)
	case len(args) == 3:
		dims, convErr := strconv.Atoi(args[2])
		if convErr != nil || dims < 1 || dims > x10.MaxDims {
			return sendRequest{}, fmt.Errorf("%w: %q not in 1-%d", x10.ErrInvalidDims, args[2], x10.MaxDims)
		}
		req.dims = dims
	}

	return req, nil
}

// connectFailure captures why Connect failed.
type connectFailure struct {
	reason string
}

func (c *connectFailure) OnConnected()                 {}
func (c *connectFailure) OnDisconnected(reason string) { c.reason = reason }

// sendOnce connects, transmits req and disconnects.
func sendOnce(gw *cm11.Gateway, req sendRequest, out io.Writer) error {
	defer gw.Disconnect()

	sink := &connectFailure{}
	gw.SetStatusSink(sink)
	if !gw.Connect() {
		if sink.reason != "" {
			return fmt.Errorf("%w: %s", cm11.ErrNotConnected, sink.reason)
		}
		return cm11.ErrNotConnected
	}

	var err error
	if req.function.IsHouseWide() {
		err = gw.SendHouseFunction(req.target, req.function)
	} else {
		err = gw.SendFunction(req.target, req.function, req.dims)
	}
	if err != nil {
		if errors.Is(err, cm11.ErrMaxRetriesExceeded) {
			return fmt.Errorf("gateway did not confirm %s %s: %w", req.target, req.function, err)
		}
		return err
	}

	fmt.Fprintf(out, "sent %s %s", req.target, req.function)
	if req.dims > 0 {
		fmt.Fprintf(out, " %d", req.dims)
	}
	fmt.Fprintln(out)
	return nil
}
