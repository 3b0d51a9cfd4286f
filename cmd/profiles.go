package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gatelink/internal/creds"
	"gatelink/internal/models"
	"gatelink/internal/storage"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	profileCmd = &cobra.Command{
		Use:   "profile",
		Short: "manage saved server profiles",
	}

	profileListCmd = &cobra.Command{
		Use:   "list",
		Short: "list saved profiles",
		RunE:  runProfileList,
	}

	profileAddCmd = &cobra.Command{
		Use:   "add",
		Short: "save a new server profile",
		RunE:  runProfileAdd,
	}

	profileRemoveCmd = &cobra.Command{
		Use:   "remove <profile-id>",
		Short: "delete a profile and its credentials",
		Args:  cobra.ExactArgs(1),
		RunE:  runProfileRemove,
	}

	profileExportCmd = &cobra.Command{
		Use:   "export [file]",
		Short: "write all profiles to a TOML document (stdout by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runProfileExport,
	}

	profileImportCmd = &cobra.Command{
		Use:   "import <file>",
		Short: "save profiles from a TOML document",
		Long:  "Secrets are not part of the document; store them with the secret command afterwards.",
		Args:  cobra.ExactArgs(1),
		RunE:  runProfileImport,
	}

	secretCmd = &cobra.Command{
		Use:   "secret <profile-id> <kind>",
		Short: "store a credential for a profile (read from stdin)",
		Long:  "Kinds: wg-private-key, wg-preshared-key, vless-id.",
		Args:  cobra.ExactArgs(2),
		RunE:  runSecret,
	}

	addFlags struct {
		name     string
		protocol string
		host     string
		port     int

		peerPublicKey string
		endpoint      string
		allowedIPs    []string
		dns           []string

		transport   string
		sni         string
		insecure    bool
		obfuscation string
		socks       string
	}
)

func runProfileList(_ *cobra.Command, _ []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	profiles, err := a.profiles.List(context.Background())
	if err != nil {
		return err
	}
	for _, p := range profiles {
		lastUsed := "never"
		if p.LastUsedAt != nil {
			lastUsed = p.LastUsedAt.Format(time.RFC3339)
		}
		fmt.Printf("%s  %-10s %-20s %s (last used %s)\n",
			p.ID, p.Protocol, p.Name, p.Endpoint(), lastUsed)
	}
	return nil
}

func runProfileAdd(_ *cobra.Command, _ []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	profile := &models.ServerProfile{
		ID:        uuid.NewString(),
		Name:      addFlags.name,
		Protocol:  models.Protocol(addFlags.protocol),
		Host:      addFlags.host,
		Port:      addFlags.port,
		CreatedAt: time.Now(),
	}
	switch profile.Protocol {
	case models.ProtocolWireGuard:
		profile.WireGuard = &models.WireGuardConfig{
			PeerPublicKey: addFlags.peerPublicKey,
			Endpoint:      addFlags.endpoint,
			AllowedIPs:    addFlags.allowedIPs,
			DNS:           addFlags.dns,
		}
	case models.ProtocolVLESS:
		profile.VLESS = &models.VLESSConfig{
			Transport:     addFlags.transport,
			SNI:           addFlags.sni,
			AllowInsecure: addFlags.insecure,
			Obfuscation:   addFlags.obfuscation,
			UpstreamSOCKS: addFlags.socks,
		}
	}

	if err := a.profiles.Save(context.Background(), profile); err != nil {
		return err
	}
	fmt.Println(profile.ID)
	return nil
}

func runProfileRemove(_ *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.profiles.Delete(context.Background(), args[0]); err != nil {
		return err
	}
	return a.creds.Delete(args[0])
}

func runProfileExport(_ *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	profiles, err := a.profiles.List(context.Background())
	if err != nil {
		return err
	}
	data, err := storage.ExportProfiles(profiles)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		_, err = os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(args[0], data, 0o600)
}

func runProfileImport(_ *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	profiles, err := storage.ImportProfiles(data, uuid.NewString)
	if err != nil {
		return err
	}
	for _, p := range profiles {
		if err := a.profiles.Save(context.Background(), p); err != nil {
			return fmt.Errorf("save profile %s: %w", p.Name, err)
		}
		fmt.Println(p.ID)
	}
	return nil
}

func runSecret(_ *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	fmt.Fprint(os.Stderr, "secret: ")
	reader := bufio.NewReader(os.Stdin)
	secret, err := reader.ReadString('\n')
	if err != nil {
		return err
	}
	return a.creds.Set(args[0], creds.Kind(args[1]), strings.TrimSpace(secret))
}

func init() {
	profileAddCmd.Flags().StringVar(&addFlags.name, "name", "", "display name")
	profileAddCmd.Flags().StringVar(&addFlags.protocol, "protocol", "", "wireguard or vless")
	profileAddCmd.Flags().StringVar(&addFlags.host, "host", "", "server hostname")
	profileAddCmd.Flags().IntVar(&addFlags.port, "port", 0, "server port")
	profileAddCmd.Flags().StringVar(&addFlags.peerPublicKey, "peer-public-key", "", "wireguard peer public key (base64)")
	profileAddCmd.Flags().StringVar(&addFlags.endpoint, "endpoint", "", "wireguard endpoint, defaults to host:port")
	profileAddCmd.Flags().StringSliceVar(&addFlags.allowedIPs, "allowed-ips", nil, "wireguard allowed address ranges")
	profileAddCmd.Flags().StringSliceVar(&addFlags.dns, "dns", nil, "dns servers inside the tunnel")
	profileAddCmd.Flags().StringVar(&addFlags.transport, "transport", "tcp", "vless transport: tcp or tls")
	profileAddCmd.Flags().StringVar(&addFlags.sni, "sni", "", "vless tls server name")
	profileAddCmd.Flags().BoolVar(&addFlags.insecure, "insecure", false, "skip vless tls verification")
	profileAddCmd.Flags().StringVar(&addFlags.obfuscation, "obfuscation", "none", "vless obfuscation mode")
	profileAddCmd.Flags().StringVar(&addFlags.socks, "socks", "", "upstream socks5 proxy address")
	_ = profileAddCmd.MarkFlagRequired("name")
	_ = profileAddCmd.MarkFlagRequired("protocol")
	_ = profileAddCmd.MarkFlagRequired("host")
	_ = profileAddCmd.MarkFlagRequired("port")

	profileCmd.AddCommand(profileListCmd, profileAddCmd, profileRemoveCmd,
		profileExportCmd, profileImportCmd)
	rootCmd.AddCommand(profileCmd, secretCmd)
}
