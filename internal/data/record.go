package data

import (
	"time"

	"github.com/rawbot-ai/rawbot/internal/biz/domain"
)

// botRecord is the stored form of a bot profile.
// sqlite keeps it as a JSON column; firestore stores it as the document.
type botRecord struct {
	BotName      string `json:"bot_name" firestore:"botName"`
	StoreName    string `json:"store_name" firestore:"storeName"`
	BusinessType string `json:"business_type" firestore:"businessType"`
	Location     string `json:"location" firestore:"location"`
	LocationURL  string `json:"location_url" firestore:"locationUrl"`
	Country      string `json:"country" firestore:"country"`
	WorkHours    string `json:"work_hours" firestore:"workHours"`

	ToneValue int    `json:"tone_value" firestore:"toneValue"`
	Language  string `json:"language" firestore:"language"`
	UseEmoji  bool   `json:"use_emoji" firestore:"useEmoji"`

	Products       string `json:"products" firestore:"products"`
	AdditionalInfo string `json:"additional_info" firestore:"additionalInfo"`
	KnowledgeBase  string `json:"knowledge_base" firestore:"knowledgeBase"`

	Instagram instagramRecord `json:"instagram" firestore:"instagram"`
	WhatsApp  whatsAppRecord  `json:"whatsapp" firestore:"whatsapp"`
	License   licenseRecord   `json:"license" firestore:"license"`
}

type instagramRecord struct {
	Connected   bool   `json:"connected" firestore:"connected"`
	AccessToken string `json:"access_token" firestore:"accessToken"`
	BusinessID  string `json:"business_id" firestore:"businessId"`
	PageID      string `json:"page_id" firestore:"pageId"`
	UserID      string `json:"user_id" firestore:"userId"`
	Username    string `json:"username" firestore:"username"`
}

type whatsAppRecord struct {
	Connected         bool   `json:"connected" firestore:"connected"`
	PhoneNumber       string `json:"phone_number" firestore:"phoneNumber"`
	AccessToken       string `json:"access_token" firestore:"accessToken"`
	BusinessAccountID string `json:"business_account_id" firestore:"businessAccountId"`
	PhoneNumberID     string `json:"phone_number_id" firestore:"phoneNumberId"`
}

type licenseRecord struct {
	Key            string    `json:"key" firestore:"key"`
	Activated      bool      `json:"activated" firestore:"activated"`
	ActivationDate time.Time `json:"activation_date" firestore:"activationDate"`
	ExpiresAt      time.Time `json:"expires_at" firestore:"expiresAt"`
}

func toBotRecord(b *domain.BotProfile) botRecord {
	return botRecord{
		BotName:        b.BotName,
		StoreName:      b.StoreName,
		BusinessType:   b.BusinessType,
		Location:       b.Location,
		LocationURL:    b.LocationURL,
		Country:        b.Country,
		WorkHours:      b.WorkHours,
		ToneValue:      b.ToneValue,
		Language:       string(b.Language),
		UseEmoji:       b.UseEmoji,
		Products:       b.Products,
		AdditionalInfo: b.AdditionalInfo,
		KnowledgeBase:  b.KnowledgeBase,
		Instagram:      instagramRecord(b.Instagram),
		WhatsApp:       whatsAppRecord(b.WhatsApp),
		License:        licenseRecord(b.License),
	}
}

func (r botRecord) apply(b *domain.BotProfile) {
	b.BotName = r.BotName
	b.StoreName = r.StoreName
	b.BusinessType = r.BusinessType
	b.Location = r.Location
	b.LocationURL = r.LocationURL
	b.Country = r.Country
	b.WorkHours = r.WorkHours
	b.ToneValue = r.ToneValue
	b.Language = domain.LanguageMode(r.Language)
	b.UseEmoji = r.UseEmoji
	b.Products = r.Products
	b.AdditionalInfo = r.AdditionalInfo
	b.KnowledgeBase = r.KnowledgeBase
	b.Instagram = domain.InstagramChannel(r.Instagram)
	b.WhatsApp = domain.WhatsAppChannel(r.WhatsApp)
	b.License = domain.License(r.License)
}
