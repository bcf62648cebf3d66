package cli

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/agentenv/pkg/action"
	"github.com/devicelab-dev/agentenv/pkg/episode"
	"github.com/devicelab-dev/agentenv/pkg/logger"
)

var translateCommand = &cli.Command{
	Name:      "translate",
	Usage:     "Decode a raw agent action and print its canonical record",
	ArgsUsage: "<raw action>",
	Description: `Without --width/--height the screen size is read from the device.

Examples:
  agentenv translate --width 1080 --height 2400 "action_type: dual_point, touch_point: [0.5, 0.5], lift_point: [0.5, 0.5]"
  agentenv translate --dispatch "action_type: press_home"`,
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "width", Usage: "Screen width in pixels"},
		&cli.IntFlag{Name: "height", Usage: "Screen height in pixels"},
		&cli.BoolFlag{Name: "dispatch", Usage: "Send the action to the device"},
	},
	Action: runTranslate,
}

// translate decodes raw and renders the record for a width x height screen.
func translate(raw string, width, height int) (action.Action, string, error) {
	a, err := action.Decode(raw)
	if err != nil {
		return action.Action{}, "", err
	}
	encoded, err := action.Encode(a, width, height)
	if err != nil {
		return action.Action{}, "", err
	}
	return a, encoded, nil
}

func runTranslate(c *cli.Context) error {
	initStderrLogger(c)
	defer logger.Close()

	raw := strings.Join(c.Args().Slice(), " ")
	if raw == "" {
		return fmt.Errorf("no action given")
	}

	width, height := c.Int("width"), c.Int("height")
	needDevice := c.Bool("dispatch") || width <= 0 || height <= 0

	var ses episode.Session
	if needDevice {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		s, _, err := connectSession(c.Context, cfg)
		if err != nil {
			return err
		}
		defer s.Disconnect()
		ses = s

		if width <= 0 || height <= 0 {
			if width, height, err = s.ScreenMetrics(c.Context); err != nil {
				return err
			}
		}
	}

	a, encoded, err := translate(raw, width, height)
	if err != nil {
		return err
	}
	fmt.Println(encoded)
	if c.Bool("verbose") {
		fmt.Printf("%s%s%s\n", color(colorGray), action.Format(a), color(colorReset))
	}

	if c.Bool("dispatch") && a.Type.Dispatchable() {
		if err := episode.Dispatch(c.Context, ses, a); err != nil {
			return fmt.Errorf("dispatch %s: %w", a.Type, err)
		}
		fmt.Printf("  %s✓ Dispatched %s%s\n", color(colorGreen), a.Type, color(colorReset))
	}
	return nil
}
