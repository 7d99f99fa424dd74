// Package enrich decorates clips with audience-facing metadata: a contextual
// title, hashtags, target communities, and a boosted virality score.
//
// When a remote enrichment endpoint is configured it is tried first; any
// failure falls back to the local keyword analyzer so clip creation never
// blocks on a third-party API.
package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/onnwee/clip-surge/backend/telemetry"
)

// Input is the raw clip context handed to the enhancer.
type Input struct {
	Channel      string   `json:"channel"`
	Messages     []string `json:"messages"`
	ViralScore   float64  `json:"viral_score"`
	ChatVelocity int      `json:"chat_velocity"`
}

// Strategy suggests where and how to distribute a clip.
type Strategy struct {
	Platforms       []string `json:"primary_platforms"`
	OptimalTiming   string   `json:"optimal_timing"`
	EngagementBoost string   `json:"engagement_boost"`
	Budget          string   `json:"recommended_budget"`
}

// Metadata is the enrichment result attached to a clip.
type Metadata struct {
	Title         string         `json:"enhanced_title"`
	Hashtags      []string       `json:"hashtags"`
	Communities   []string       `json:"target_communities"`
	EnhancedScore float64        `json:"enhanced_viral_score"`
	Web3Detected  bool           `json:"web3_detected"`
	Context       map[string]int `json:"web3_context,omitempty"`
	Strategy      Strategy       `json:"distribution_strategy"`
}

const remoteTimeout = 10 * time.Second

// Enhancer produces clip metadata, remotely when configured and locally otherwise.
type Enhancer struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// New builds an Enhancer. An empty endpoint means local analysis only.
func New(endpoint, apiKey string) *Enhancer {
	return &Enhancer{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: remoteTimeout},
	}
}

// Enhance returns metadata for a clip. It never returns an error: remote
// failures are logged, counted, and replaced by the local analyzer's output.
func (e *Enhancer) Enhance(ctx context.Context, in Input) Metadata {
	if e.endpoint != "" {
		md, err := e.enhanceRemote(ctx, in)
		if err == nil {
			return md
		}
		telemetry.Inc(telemetry.EnrichFailures)
		slog.Warn("remote enrichment failed, using local analyzer", "error", err)
	}
	return Analyze(in)
}

func (e *Enhancer) enhanceRemote(ctx context.Context, in Input) (Metadata, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return Metadata{}, fmt.Errorf("encode enrichment request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return Metadata{}, fmt.Errorf("build enrichment request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return Metadata{}, fmt.Errorf("call enrichment endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return Metadata{}, fmt.Errorf("enrichment endpoint returned %d", resp.StatusCode)
	}

	var md Metadata
	if err := json.NewDecoder(resp.Body).Decode(&md); err != nil {
		return Metadata{}, fmt.Errorf("decode enrichment response: %w", err)
	}
	if md.Title == "" {
		return Metadata{}, fmt.Errorf("enrichment response missing title")
	}
	return md, nil
}

// categoryOrder fixes tie-breaking when several categories score equally.
var categoryOrder = []string{"crypto", "trading", "defi", "nft", "gaming"}

var categoryKeywords = map[string][]string{
	"crypto":  {"crypto", "bitcoin", "eth", "solana", "pump", "moon", "diamond hands", "hodl"},
	"trading": {"bull", "bear", "trade", "buy", "sell", "dip", "ath", "rekt"},
	"defi":    {"defi", "yield", "staking", "liquidity", "apy", "farming"},
	"nft":     {"nft", "mint", "opensea", "rare", "floor", "collection"},
	"gaming":  {"play2earn", "p2e", "guild", "scholarship", "metaverse"},
}

// Analyze runs the local keyword analyzer. Deterministic for a given input.
func Analyze(in Input) Metadata {
	text := strings.ToLower(strings.Join(in.Messages, " "))

	counts := make(map[string]int)
	for cat, keywords := range categoryKeywords {
		n := 0
		for _, kw := range keywords {
			n += strings.Count(text, kw)
		}
		if n > 0 {
			counts[cat] = n
		}
	}

	web3 := len(counts) > 0
	md := Metadata{Web3Detected: web3}

	if web3 {
		primary := primaryCategory(counts)
		md.Title = web3Title(in.Channel, primary, in.ViralScore)
		md.Hashtags = web3Hashtags(primary)
		md.Communities = web3Communities(primary)
		md.Context = counts
		md.EnhancedScore = min(100, in.ViralScore+20)
		md.Strategy = Strategy{
			Platforms:       []string{"Twitter", "Reddit", "Discord"},
			OptimalTiming:   "Peak Web3 hours (US/EU overlap)",
			EngagementBoost: "+35% from Web3 community targeting",
			Budget:          fmt.Sprintf("$%g for promoted posts", min(100, md.EnhancedScore*2)),
		}
	} else {
		md.Title = gamingTitle(in.Channel, in.ViralScore)
		md.Hashtags = []string{"#ClipSurge", "#TwitchClips", "#GamingMoments", "#StreamHighlights", "#ViralGaming"}
		md.Communities = []string{"TwitchClips", "StreamHighlights"}
		md.EnhancedScore = min(100, in.ViralScore+5)
		md.Strategy = Strategy{
			Platforms:       []string{"TikTok", "YouTube Shorts", "Twitter"},
			OptimalTiming:   "Gaming prime time (6-10 PM)",
			EngagementBoost: "+15% from gaming community",
			Budget:          fmt.Sprintf("$%g for promoted posts", min(50, md.EnhancedScore)),
		}
	}
	return md
}

func primaryCategory(counts map[string]int) string {
	best := "crypto"
	bestCount := -1
	for _, cat := range categoryOrder {
		if n, ok := counts[cat]; ok && n > bestCount {
			best = cat
			bestCount = n
		}
	}
	return best
}

var web3Titles = map[string][]string{
	"crypto": {
		"%s's INSANE Crypto Reaction Goes Viral",
		"Streamer %s Can't Believe This Crypto Move",
		"%s's Epic Bitcoin Reaction Breaks Internet",
	},
	"trading": {
		"%s Trading Reaction Sends Chat Wild",
		"Streamer %s's Trading Call Goes Viral",
		"%s Can't Handle This Market Move",
	},
	"nft": {
		"%s's NFT Mint Reaction is PURE GOLD",
		"Streamer %s Goes CRAZY Over NFT Drop",
		"%s's NFT Floor Price Reaction",
	},
	"defi": {
		"%s Discovers Insane DeFi Yield",
		"Streamer %s's DeFi Reaction Goes Viral",
		"%s Can't Believe These APY Numbers",
	},
}

func web3Title(channel, category string, score float64) string {
	titles, ok := web3Titles[category]
	if !ok {
		titles = web3Titles["crypto"]
	}
	return fmt.Sprintf(titles[int(score)%len(titles)], channel)
}

func gamingTitle(channel string, score float64) string {
	titles := []string{
		"%s's INSANE Gaming Moment Goes Viral",
		"Streamer %s's Epic Reaction Breaks Chat",
		"%s Can't Believe What Just Happened",
		"%s's Unexpected Victory Goes Viral",
	}
	return fmt.Sprintf(titles[int(score)%len(titles)], channel)
}

var categoryHashtags = map[string][]string{
	"crypto":  {"#CryptoStreaming", "#Bitcoin", "#Ethereum", "#CryptoReaction"},
	"trading": {"#CryptoTrading", "#TradingView", "#MarketReaction", "#DayTrading"},
	"nft":     {"#NFT", "#NFTDrop", "#OpenSea", "#DigitalArt"},
	"defi":    {"#DeFi", "#YieldFarming", "#Staking", "#LiquidityMining"},
	"gaming":  {"#Play2Earn", "#GameFi", "#Metaverse", "#BlockchainGaming"},
}

func web3Hashtags(category string) []string {
	base := []string{"#ClipSurge", "#Web3Clips"}
	tags, ok := categoryHashtags[category]
	if !ok {
		tags = categoryHashtags["crypto"]
	}
	return append(base, tags...)
}

var categoryCommunities = map[string][]string{
	"crypto":  {"r/cryptocurrency", "BitcoinTwitter", "CryptoTelegram", "Web3Discord"},
	"trading": {"TradingView", "CryptoTwitter", "r/CryptoCurrency", "TradingDiscord"},
	"nft":     {"NFTTwitter", "OpenSeaDiscord", "r/NFT", "NFTCommunity"},
	"defi":    {"DeFiPulse", "r/defi", "YieldFarmingGroups", "DeFiTwitter"},
	"gaming":  {"GameFiHub", "Play2EarnDAO", "MetaverseGroups", "BlockchainGamers"},
}

func web3Communities(category string) []string {
	if c, ok := categoryCommunities[category]; ok {
		return c
	}
	return categoryCommunities["crypto"]
}
