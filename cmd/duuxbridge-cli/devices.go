package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/smarthomesven/duuxbridge/internal/cloudgarden"
	"github.com/smarthomesven/duuxbridge/internal/config"
	"github.com/smarthomesven/duuxbridge/internal/model"
	"github.com/smarthomesven/duuxbridge/internal/registry"
	"github.com/smarthomesven/duuxbridge/internal/session"
)

func newCloud(cfg *config.Config, sess *session.Session) *cloudgarden.Client {
	return cloudgarden.NewClient(cfg.Core.CloudBaseURL, sess)
}

func tenantsCmd(ctx context.Context) {
	cfg := loadConfig()
	cloud := newCloud(cfg, openSession(cfg))

	tenants, err := cloud.UserTenants(ctx)
	if err != nil {
		fatal("list tenants", err)
	}
	for _, t := range tenants {
		fmt.Printf("%d\t%s\n", t.ID, t.Name)
	}
}

// devicesCmd lists the cloud's view of the account's appliances, with the
// matching bridge model where the vendor type is known.
func devicesCmd(ctx context.Context, args []string) {
	flags := flag.NewFlagSet("devices", flag.ExitOnError)
	tenantID := flags.Int("tenant", 0, "tenant id (default: all user tenants)")
	_ = flags.Parse(args)

	cfg := loadConfig()
	cloud := newCloud(cfg, openSession(cfg))

	var tenants []cloudgarden.Tenant
	if *tenantID != 0 {
		tenants = []cloudgarden.Tenant{{ID: *tenantID}}
	} else {
		var err error
		tenants, err = cloud.UserTenants(ctx)
		if err != nil {
			fatal("list tenants", err)
		}
	}

	for _, t := range tenants {
		sensors, err := cloud.Sensors(ctx, t.ID)
		if err != nil {
			fatal(fmt.Sprintf("list devices for tenant %d", t.ID), err)
		}
		for _, s := range sensors {
			modelName := "-"
			if desc, ok := model.ByVendorType(s.Type); ok {
				modelName = desc.Model
			}
			fmt.Printf("%d\t%s\t%s\ttype=%s\tmodel=%s\t%s\n",
				t.ID, s.DeviceID, s.DisplayName, s.Type, modelName, s.Name)
		}
	}
}

// pairCmd stores a device in the registry so the daemon picks it up on
// the next start. When --model is omitted the cloud listing is consulted
// and the vendor type mapped to a model.
func pairCmd(ctx context.Context, args []string) {
	flags := flag.NewFlagSet("pair", flag.ExitOnError)
	id := flags.String("id", "", "bridge-local device id")
	mac := flags.String("mac", "", "device MAC address")
	tenantID := flags.Int("tenant", 0, "tenant id")
	modelName := flags.String("model", "", "device model (auto-detected when omitted)")
	name := flags.String("name", "", "display name")
	_ = flags.Parse(args)

	if *id == "" || *mac == "" || *tenantID == 0 {
		fatal("pair", fmt.Errorf("--id, --mac and --tenant are required"))
	}

	cfg := loadConfig()

	if *modelName == "" {
		cloud := newCloud(cfg, openSession(cfg))
		sensors, err := cloud.Sensors(ctx, *tenantID)
		if err != nil {
			fatal("list devices", err)
		}
		for _, s := range sensors {
			if s.DeviceID != *mac {
				continue
			}
			desc, ok := model.ByVendorType(s.Type)
			if !ok {
				fatal("pair", fmt.Errorf("device type %q is not supported; pass --model explicitly", s.Type))
			}
			*modelName = desc.Model
			if *name == "" {
				*name = s.DisplayName
			}
			break
		}
		if *modelName == "" {
			fatal("pair", fmt.Errorf("device %s not found in tenant %d", *mac, *tenantID))
		}
	} else if _, ok := model.ByModel(*modelName); !ok {
		fatal("pair", fmt.Errorf("unknown model %q; known models: %v", *modelName, model.Models()))
	}

	reg, err := registry.Open(cfg.Core.RegistryPath)
	if err != nil {
		fatal("open registry", err)
	}
	defer reg.Close()

	err = reg.Put(ctx, registry.PairedDevice{
		ID:       *id,
		MAC:      *mac,
		TenantID: *tenantID,
		Model:    *modelName,
		Name:     *name,
	})
	if err != nil {
		fatal("pair", err)
	}
	fmt.Printf("Paired %s (%s, model %s). Restart duuxbridge to pick it up.\n", *id, *mac, *modelName)
}

func unpairCmd(ctx context.Context, args []string) {
	flags := flag.NewFlagSet("unpair", flag.ExitOnError)
	id := flags.String("id", "", "bridge-local device id")
	_ = flags.Parse(args)

	if *id == "" {
		fatal("unpair", fmt.Errorf("--id is required"))
	}

	cfg := loadConfig()
	reg, err := registry.Open(cfg.Core.RegistryPath)
	if err != nil {
		fatal("open registry", err)
	}
	defer reg.Close()

	if err := reg.Delete(ctx, *id); err != nil {
		fatal("unpair", err)
	}
	fmt.Printf("Unpaired %s.\n", *id)
}

func listCmd(ctx context.Context) {
	cfg := loadConfig()
	reg, err := registry.Open(cfg.Core.RegistryPath)
	if err != nil {
		fatal("open registry", err)
	}
	defer reg.Close()

	devices, err := reg.List(ctx)
	if err != nil {
		fatal("list", err)
	}
	for _, d := range devices {
		fmt.Printf("%s\t%s\ttenant=%d\tmodel=%s\t%s\n", d.ID, d.MAC, d.TenantID, d.Model, d.Name)
	}
}
