package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"whatsapp-crm/internal/automation"
	"whatsapp-crm/internal/config"
	"whatsapp-crm/internal/database"
	"whatsapp-crm/internal/logger"
	"whatsapp-crm/internal/store"
)

// validate_flows checks every stored bot flow for dangling node references
// and exits non-zero if any flow is broken.
func main() {
	ctx := context.Background()
	cfg := config.LoadConfig()
	logger.Setup(cfg)

	db, err := database.Open(cfg)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	st := store.New(db)

	flows, err := st.BotFlows(ctx)
	if err != nil {
		slog.Error("failed to load flows", "error", err)
		os.Exit(1)
	}

	broken := 0
	for i := range flows {
		flow := &flows[i]
		err := automation.ValidateGraph(flow)
		if err == nil {
			fmt.Printf("ok      %d %q (%d nodes)\n", flow.ID, flow.Name, len(flow.Nodes))
			continue
		}
		broken++
		fmt.Printf("INVALID %d %q\n", flow.ID, flow.Name)
		var verr *automation.ValidationError
		if !errors.As(err, &verr) {
			fmt.Printf("        %v\n", err)
			continue
		}
		for _, is := range verr.Issues {
			fmt.Printf("        %s: %s\n", is.NodeKey, is.Problem)
		}
	}

	fmt.Printf("\n%d flows checked, %d invalid\n", len(flows), broken)
	if broken > 0 {
		os.Exit(1)
	}
}
