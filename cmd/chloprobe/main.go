// Command chloprobe extracts SNI and ALPN from QUIC Initial packets, either
// from a live UDP socket or from an offline packet capture, logging each
// outcome with a structured logger.
package main

import (
	"flag"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"go.uber.org/zap"

	"github.com/fisherboys/h3chlo"
)

func main() {
	listenAddr := flag.String("listen", "", "UDP address to listen on, e.g. :443")
	pcapFile := flag.String("pcap", "", "offline packet capture to read QUIC Initial packets from")
	idleTimeout := flag.Duration("idle-timeout", 30*time.Second, "evict a flow's extractor after this much inactivity")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	switch {
	case *pcapFile != "":
		if err := runPcap(logger, *pcapFile); err != nil {
			logger.Fatal("pcap ingestion failed", zap.Error(err))
		}
	case *listenAddr != "":
		if err := runListen(logger, *listenAddr, *idleTimeout); err != nil {
			logger.Fatal("listen failed", zap.Error(err))
		}
	default:
		logger.Fatal("one of -listen or -pcap is required")
		os.Exit(2)
	}
}

type flowKey struct {
	srcIP   string
	srcPort uint16
}

// runPcap decodes every UDP/443 datagram in an offline packet capture and
// feeds it to a per-flow extractor, keyed by source address.
func runPcap(logger *zap.Logger, path string) error {
	handle, err := pcap.OpenOffline(path)
	if err != nil {
		return err
	}
	defer handle.Close()

	extractors := make(map[flowKey]*h3chlo.TlsChloExtractor)

	packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
	for packet := range packetSource.Packets() {
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok || udp.DstPort != 443 {
			continue
		}

		ipLayer := packet.Layer(layers.LayerTypeIPv4)
		var srcIP string
		if ipLayer != nil {
			srcIP = ipLayer.(*layers.IPv4).SrcIP.String()
		} else if ip6 := packet.Layer(layers.LayerTypeIPv6); ip6 != nil {
			srcIP = ip6.(*layers.IPv6).SrcIP.String()
		}

		key := flowKey{srcIP: srcIP, srcPort: uint16(udp.SrcPort)}
		e, ok := extractors[key]
		if !ok {
			e = h3chlo.NewTlsChloExtractor()
			extractors[key] = e
		}

		logOutcome(logger, key.srcIP, e.IngestPacket(udp.Payload), e)
	}
	return nil
}

// runListen listens on a live UDP socket, running one extractor per source
// address and evicting it after idleTimeout of inactivity.
func runListen(logger *zap.Logger, addr string, idleTimeout time.Duration) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return err
	}
	defer conn.Close()

	type entry struct {
		extractor *h3chlo.TlsChloExtractor
		lastSeen  time.Time
	}
	flows := make(map[string]*entry)

	buf := make([]byte, 64*1024)
	for {
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			return err
		}

		now := time.Now()
		for k, v := range flows {
			if now.Sub(v.lastSeen) > idleTimeout {
				delete(flows, k)
			}
		}

		key := src.String()
		ent, ok := flows[key]
		if !ok {
			ent = &entry{extractor: h3chlo.NewTlsChloExtractor()}
			flows[key] = ent
		}
		ent.lastSeen = now

		payload := make([]byte, n)
		copy(payload, buf[:n])
		logOutcome(logger, key, ent.extractor.IngestPacket(payload), ent.extractor)

		if ent.extractor.HasParsedFullChlo() || ent.extractor.State() == h3chlo.StateUnrecoverableFailure {
			delete(flows, key)
		}
	}
}

func logOutcome(logger *zap.Logger, src string, err error, e *h3chlo.TlsChloExtractor) {
	if e.HasParsedFullChlo() {
		logger.Info("parsed ClientHello",
			zap.String("src", src),
			zap.String("sni", e.ServerName()),
			zap.Strings("alpn", e.ALPNs()),
			zap.String("state", e.State().String()),
		)
		return
	}
	if err != nil {
		logger.Debug("packet did not complete a ClientHello",
			zap.String("src", src),
			zap.Error(err),
			zap.String("state", e.State().String()),
		)
	}
}
