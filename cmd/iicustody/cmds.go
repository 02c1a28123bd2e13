package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/icpgeeks/iicustody/api"
	"github.com/icpgeeks/iicustody/custody"
	"github.com/icpgeeks/iicustody/identity"
)

// withAPI dials the daemon and runs fn against it.
func withAPI(cctx *cli.Context, fn func(a api.Custodian) error) error {
	a, closer, err := getAPI(cctx)
	if err != nil {
		return err
	}
	defer closer()
	return fn(a)
}

var statusCmd = &cli.Command{
	Name:  "status",
	Usage: "Print the custody record",
	Action: func(cctx *cli.Context) error {
		return withAPI(cctx, func(a api.Custodian) error {
			info, err := a.CustodyInfo(cctx.Context)
			if err != nil {
				return err
			}
			wake, err := a.NextWake(cctx.Context)
			if err != nil {
				return err
			}
			lock, err := a.LockExpiration(cctx.Context)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(info); err != nil {
				return err
			}
			if wake != 0 {
				fmt.Printf("next wake: %s\n", time.Unix(0, int64(wake)).Format(time.RFC3339))
			}
			if lock != 0 {
				fmt.Printf("lease held until: %s\n", time.Unix(0, int64(lock)).Format(time.RFC3339))
			}
			return nil
		})
	},
}

var logCmd = &cli.Command{
	Name:  "log",
	Usage: "Print recent custody transitions",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "count",
			Usage: "maximum number of entries to print",
			Value: 50,
		},
	},
	Action: func(cctx *cli.Context) error {
		return withAPI(cctx, func(a api.Custodian) error {
			entries, err := a.CustodyLog(cctx.Context, cctx.Int("count"))
			if err != nil {
				return err
			}
			for _, e := range entries {
				ts := time.Unix(0, int64(e.At)).Format(time.RFC3339)
				line := fmt.Sprintf("%s  %-28s %s", ts, e.Kind, e.Phase)
				if e.Detail != "" {
					line += "  " + e.Detail
				}
				if e.Count > 1 {
					line += fmt.Sprintf("  (x%d)", e.Count)
				}
				fmt.Println(line)
			}
			return nil
		})
	},
}

var activateCmd = &cli.Command{
	Name:      "activate",
	Usage:     "Bind the controller to an identity and its owner",
	ArgsUsage: "<owner-principal> <identity-number>",
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 2 {
			return xerrors.New("expected owner principal and identity number")
		}
		owner := identity.Principal(cctx.Args().Get(0))
		var ident uint64
		if _, err := fmt.Sscan(cctx.Args().Get(1), &ident); err != nil {
			return xerrors.Errorf("parsing identity number: %w", err)
		}
		return withAPI(cctx, func(a api.Custodian) error {
			return a.Activate(cctx.Context, owner, ident)
		})
	},
}

var captureCmd = &cli.Command{
	Name:  "capture",
	Usage: "Manage identity capture",
	Subcommands: []*cli.Command{
		{
			Name:  "start",
			Usage: "Begin capturing the identity",
			Flags: []cli.Flag{callerFlag},
			Action: func(cctx *cli.Context) error {
				return withAPI(cctx, func(a api.Custodian) error {
					return a.StartCapture(cctx.Context, caller(cctx))
				})
			},
		},
		{
			Name:      "confirm",
			Usage:     "Confirm the capture session with the registration code",
			ArgsUsage: "<code>",
			Flags:     []cli.Flag{callerFlag},
			Action: func(cctx *cli.Context) error {
				if cctx.NArg() != 1 {
					return xerrors.New("expected confirmation code")
				}
				return withAPI(cctx, func(a api.Custodian) error {
					return a.ConfirmCaptureSession(cctx.Context, caller(cctx), cctx.Args().First())
				})
			},
		},
		{
			Name:  "cancel",
			Usage: "Exit a failed capture",
			Flags: []cli.Flag{callerFlag},
			Action: func(cctx *cli.Context) error {
				return withAPI(cctx, func(a api.Custodian) error {
					return a.CancelCapture(cctx.Context, caller(cctx))
				})
			},
		},
	},
}

var saleCmd = &cli.Command{
	Name:  "sale",
	Usage: "Manage the sale deal",
	Subcommands: []*cli.Command{
		{
			Name:  "set",
			Usage: "Open a sale deal on the held identity",
			Flags: []cli.Flag{
				callerFlag,
				&cli.DurationFlag{
					Name:  "duration",
					Usage: "how long the deal stays open",
					Value: 30 * 24 * time.Hour,
				},
				&cli.StringFlag{
					Name:  "contact",
					Usage: "seller contact published with the deal",
				},
				&cli.StringFlag{
					Name:  "referrer",
					Usage: "referral principal entitled to a reward cut",
				},
			},
			Action: func(cctx *cli.Context) error {
				expireAt := uint64(time.Now().Add(cctx.Duration("duration")).UnixNano())
				return withAPI(cctx, func(a api.Custodian) error {
					return a.SetSaleIntention(cctx.Context, caller(cctx), expireAt,
						cctx.String("contact"), identity.Principal(cctx.String("referrer")))
				})
			},
		},
		{
			Name:  "change",
			Usage: "Update the terms of a deal not yet accepted",
			Flags: []cli.Flag{
				callerFlag,
				&cli.DurationFlag{
					Name:  "duration",
					Usage: "how long the deal stays open",
					Value: 30 * 24 * time.Hour,
				},
				&cli.StringFlag{
					Name:  "contact",
					Usage: "seller contact published with the deal",
				},
				&cli.StringFlag{
					Name:  "referrer",
					Usage: "referral principal entitled to a reward cut",
				},
			},
			Action: func(cctx *cli.Context) error {
				expireAt := uint64(time.Now().Add(cctx.Duration("duration")).UnixNano())
				return withAPI(cctx, func(a api.Custodian) error {
					return a.ChangeSaleIntention(cctx.Context, caller(cctx), expireAt,
						cctx.String("contact"), identity.Principal(cctx.String("referrer")))
				})
			},
		},
		{
			Name:  "cancel",
			Usage: "Withdraw a deal not yet accepted",
			Flags: []cli.Flag{callerFlag},
			Action: func(cctx *cli.Context) error {
				return withAPI(cctx, func(a api.Custodian) error {
					return a.CancelSaleIntention(cctx.Context, caller(cctx))
				})
			},
		},
		{
			Name:      "offer",
			Usage:     "Publish the asking price",
			ArgsUsage: "<price>",
			Flags:     []cli.Flag{callerFlag},
			Action: func(cctx *cli.Context) error {
				price, err := parseAmount(cctx, 0)
				if err != nil {
					return err
				}
				return withAPI(cctx, func(a api.Custodian) error {
					return a.SetSellOffer(cctx.Context, caller(cctx), price)
				})
			},
		},
		{
			Name:      "bid",
			Usage:     "Place or replace a buyer offer",
			ArgsUsage: "<amount>",
			Flags:     []cli.Flag{callerFlag},
			Action: func(cctx *cli.Context) error {
				amount, err := parseAmount(cctx, 0)
				if err != nil {
					return err
				}
				return withAPI(cctx, func(a api.Custodian) error {
					return a.PlaceBuyerOffer(cctx.Context, caller(cctx), amount)
				})
			},
		},
		{
			Name:  "unbid",
			Usage: "Withdraw a buyer offer",
			Flags: []cli.Flag{callerFlag},
			Action: func(cctx *cli.Context) error {
				return withAPI(cctx, func(a api.Custodian) error {
					return a.CancelBuyerOffer(cctx.Context, caller(cctx))
				})
			},
		},
		{
			Name:      "accept",
			Usage:     "Accept a buyer offer and start settlement",
			ArgsUsage: "<buyer-principal> <price>",
			Flags:     []cli.Flag{callerFlag},
			Action: func(cctx *cli.Context) error {
				if cctx.NArg() != 2 {
					return xerrors.New("expected buyer principal and price")
				}
				buyer := identity.Principal(cctx.Args().Get(0))
				price, err := parseAmount(cctx, 1)
				if err != nil {
					return err
				}
				return withAPI(cctx, func(a api.Custodian) error {
					return a.AcceptBuyerOffer(cctx.Context, caller(cctx), buyer, price)
				})
			},
		},
	},
}

var releaseCmd = &cli.Command{
	Name:  "release",
	Usage: "Hand the identity back to its owner",
	Subcommands: []*cli.Command{
		{
			Name:  "start",
			Usage: "Begin the release pipeline",
			Flags: []cli.Flag{
				callerFlag,
				&cli.StringFlag{
					Name:  "initiation",
					Usage: "one of Manual, DangerousLossOfCustody, ExternalApiIncompatibility",
					Value: string(custody.ManualRelease),
				},
				&cli.StringFlag{
					Name:  "reason",
					Usage: "closure reason recorded for a manual release",
				},
			},
			Action: func(cctx *cli.Context) error {
				return withAPI(cctx, func(a api.Custodian) error {
					return a.StartRelease(cctx.Context, caller(cctx),
						custody.ReleaseInitiation(cctx.String("initiation")),
						custody.UnsellableReason(cctx.String("reason")))
				})
			},
		},
		{
			Name:  "restart",
			Usage: "Retry a parked release from the top",
			Flags: []cli.Flag{callerFlag},
			Action: func(cctx *cli.Context) error {
				return withAPI(cctx, func(a api.Custodian) error {
					return a.RestartRelease(cctx.Context, caller(cctx))
				})
			},
		},
		{
			Name:  "confirm",
			Usage: "Confirm the owner's freshly registered authn method",
			Flags: []cli.Flag{callerFlag},
			Action: func(cctx *cli.Context) error {
				return withAPI(cctx, func(a api.Custodian) error {
					return a.ConfirmReleaseRegistration(cctx.Context, caller(cctx))
				})
			},
		},
	},
}

func parseAmount(cctx *cli.Context, arg int) (uint64, error) {
	if cctx.NArg() <= arg {
		return 0, xerrors.New("expected an amount argument")
	}
	var amount uint64
	if _, err := fmt.Sscan(cctx.Args().Get(arg), &amount); err != nil {
		return 0, xerrors.Errorf("parsing amount %q: %w", cctx.Args().Get(arg), err)
	}
	return amount, nil
}
