package server

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"sync"

	webpush "github.com/SherClockHolmes/webpush-go"
)

const pushFile = "push_subscriptions.json"

// ContactSubscription is one contact browser registered to be alerted
// about an owner's sessions.
type ContactSubscription struct {
	Owner        string                `json:"owner"`
	Subscription *webpush.Subscription `json:"subscription"`
}

// PushManager alerts registered contacts when tracking starts or ends.
// Delivery of the tracking link itself (SMS etc) happens elsewhere,
// this is the in-browser channel.
type PushManager struct {
	mu           sync.RWMutex
	subs         map[string][]*webpush.Subscription // owner -> subscriptions
	vapidPublic  string
	vapidPrivate string
	subject      string
}

var pushManager *PushManager
var pushOnce sync.Once

// GetPushManager returns the singleton push manager
func GetPushManager() *PushManager {
	pushOnce.Do(func() {
		pushManager = &PushManager{
			subs:         make(map[string][]*webpush.Subscription),
			vapidPublic:  os.Getenv("VAPID_PUBLIC_KEY"),
			vapidPrivate: os.Getenv("VAPID_PRIVATE_KEY"),
			subject:      "mailto:push@safetrail.app",
		}
		pushManager.load()
		if pushManager.vapidPublic != "" {
			log.Printf("[push] Contact alerts enabled, %d subscriptions loaded", pushManager.count())
		} else {
			log.Printf("[push] VAPID keys not configured, push disabled")
		}
	})
	return pushManager
}

// Enabled reports whether VAPID keys are configured
func (pm *PushManager) Enabled() bool {
	return pm.vapidPublic != "" && pm.vapidPrivate != ""
}

func (pm *PushManager) count() int {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	var n int
	for _, subs := range pm.subs {
		n += len(subs)
	}
	return n
}

// load reads subscriptions from disk
func (pm *PushManager) load() {
	data, err := os.ReadFile(pushFile)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[push] Failed to load subscriptions: %v", err)
		}
		return
	}

	var subs []*ContactSubscription
	if err := json.Unmarshal(data, &subs); err != nil {
		log.Printf("[push] Failed to parse subscriptions: %v", err)
		return
	}

	for _, cs := range subs {
		if cs.Subscription == nil {
			continue
		}
		pm.subs[cs.Owner] = append(pm.subs[cs.Owner], cs.Subscription)
	}
}

// save writes subscriptions to disk
func (pm *PushManager) save() {
	pm.mu.RLock()
	var subs []*ContactSubscription
	for owner, list := range pm.subs {
		for _, sub := range list {
			subs = append(subs, &ContactSubscription{Owner: owner, Subscription: sub})
		}
	}
	pm.mu.RUnlock()

	data, err := json.MarshalIndent(subs, "", "  ")
	if err != nil {
		log.Printf("[push] Failed to marshal subscriptions: %v", err)
		return
	}

	if err := os.WriteFile(pushFile, data, 0644); err != nil {
		log.Printf("[push] Failed to save subscriptions: %v", err)
	}
}

// Subscribe registers a contact browser for an owner's alerts
func (pm *PushManager) Subscribe(owner string, sub *webpush.Subscription) {
	pm.mu.Lock()
	exists := false
	for _, s := range pm.subs[owner] {
		if s.Endpoint == sub.Endpoint {
			exists = true
			break
		}
	}
	if !exists {
		pm.subs[owner] = append(pm.subs[owner], sub)
	}
	pm.mu.Unlock()

	if !exists {
		pm.save()
	}
}

// Unsubscribe drops a contact endpoint for an owner
func (pm *PushManager) Unsubscribe(owner, endpoint string) {
	pm.mu.Lock()
	list := pm.subs[owner]
	for i, s := range list {
		if s.Endpoint == endpoint {
			pm.subs[owner] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(pm.subs[owner]) == 0 {
		delete(pm.subs, owner)
	}
	pm.mu.Unlock()

	pm.save()
}

// Alert notifies every contact registered for the owner. Failures are
// logged, a gone endpoint is dropped.
func (pm *PushManager) Alert(owner, title, body, link string) {
	if !pm.Enabled() {
		return
	}

	pm.mu.RLock()
	subs := make([]*webpush.Subscription, len(pm.subs[owner]))
	copy(subs, pm.subs[owner])
	pm.mu.RUnlock()

	payload, _ := json.Marshal(map[string]string{
		"title": title,
		"body":  body,
		"link":  link,
	})

	for _, sub := range subs {
		go func(sub *webpush.Subscription) {
			resp, err := webpush.SendNotification(payload, sub, &webpush.Options{
				VAPIDPublicKey:  pm.vapidPublic,
				VAPIDPrivateKey: pm.vapidPrivate,
				Subscriber:      pm.subject,
				TTL:             300,
			})
			if err != nil {
				log.Printf("[push] Failed to alert contact for %s: %v", owner, err)
				return
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
				// subscription expired, remove it
				pm.Unsubscribe(owner, sub.Endpoint)
				return
			}

			if resp.StatusCode >= 400 {
				log.Printf("[push] Alert for %s: status %d", owner, resp.StatusCode)
			}
		}(sub)
	}
}

// TrackingLink builds the share link embedded in contact alerts.
func TrackingLink(session string) string {
	base := os.Getenv("SAFETRAIL_URL")
	if base == "" {
		base = "http://localhost:9090"
	}
	return base + "/track?session=" + session
}

// GetPushKeyHandler returns the VAPID public key for subscribing
func GetPushKeyHandler(w http.ResponseWriter, r *http.Request) {
	b, _ := json.Marshal(map[string]string{"key": GetPushManager().vapidPublic})
	w.Header().Set("Content-Type", "application/json")
	w.Write(b)
}

// SubscribePushHandler registers a contact push subscription. The body
// is JSON, browsers hand the subscription over whole.
func SubscribePushHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Owner        string                `json:"owner"`
		Subscription *webpush.Subscription `json:"subscription"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid subscription", 400)
		return
	}

	if req.Owner == "" || req.Subscription == nil || req.Subscription.Endpoint == "" {
		http.Error(w, "Owner and subscription required", 400)
		return
	}

	GetPushManager().Subscribe(req.Owner, req.Subscription)

	b, _ := json.Marshal(map[string]bool{"subscribed": true})
	w.Header().Set("Content-Type", "application/json")
	w.Write(b)
}
