package models

import "strings"

// ProjectType is the closed project-type taxonomy. Values are the labels the
// portal documents and downstream notifiers use verbatim.
type ProjectType string

const (
	TypeInfoConstruction        ProjectType = "信息化建设类项目"
	TypeInfoService             ProjectType = "信息化服务类项目"
	TypeInfoHardwareProcurement ProjectType = "信息化软硬件采购类项目"
	TypeEngineering             ProjectType = "工程类项目"
	TypeOther                   ProjectType = "其他项目"
)

// ProjectTypes lists every allowed label in prompt order.
var ProjectTypes = []ProjectType{
	TypeInfoConstruction,
	TypeInfoService,
	TypeInfoHardwareProcurement,
	TypeEngineering,
	TypeOther,
}

// IsInformatization reports whether t is one of the three informatization categories.
func (t ProjectType) IsInformatization() bool {
	switch t {
	case TypeInfoConstruction, TypeInfoService, TypeInfoHardwareProcurement:
		return true
	}
	return false
}

func (t ProjectType) Valid() bool {
	for _, known := range ProjectTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseProjectType maps free text (usually model output) onto the taxonomy.
// Unknown labels resolve to TypeOther with ok=false.
func ParseProjectType(s string) (ProjectType, bool) {
	s = strings.Join(strings.Fields(s), "")
	s = strings.Trim(s, `"'“”「」【】`)
	if s == "" {
		return TypeOther, false
	}
	for _, known := range ProjectTypes {
		if s == string(known) {
			return known, true
		}
	}
	// Models sometimes drop the trailing 项目 or 类项目.
	for _, known := range ProjectTypes {
		core := strings.TrimSuffix(strings.TrimSuffix(string(known), "项目"), "类")
		if core != "" && strings.HasPrefix(s, core) {
			return known, true
		}
	}
	return TypeOther, false
}

// BiddingProject is an upcoming bid-opening record from the openings listing.
type BiddingProject struct {
	BulletinID string      `json:"bulletinId"`
	PrjID      *string     `json:"prjId,omitempty"`
	PrjName    string      `json:"prjName"`
	KbDate     *string     `json:"kbDate"`
	PrjType    ProjectType `json:"prjType"`
	PrjContent *string     `json:"prjContent"`
	PrjURL     *string     `json:"prjUrl"`
}

// PurchaseBulletin is a published purchase bulletin.
type PurchaseBulletin struct {
	BulletinID      *string     `json:"bulletinId"`
	PrjID           *string     `json:"prjId"`
	PrjTypeID       any         `json:"prjTypeId"`
	BulletinTitle   string      `json:"bulletinTitle"`
	BulletinContent string      `json:"bulletinContent"`
	PublishDate     *string     `json:"publishDate"`
	KbDate          *string     `json:"kbDate"`
	EndDate         *string     `json:"endDate"`
	PrjNo           *string     `json:"prjNo"`
	PrjType         ProjectType `json:"prjType"`
	PrjContent      *string     `json:"prjContent"`
	PrjURL          *string     `json:"prjUrl"`
}

// OpeningsDocument is the persisted shape of the openings document.
type OpeningsDocument struct {
	Today      string           `json:"today"`
	FutureDate string           `json:"future_date"`
	Projects   []BiddingProject `json:"projects"`
}

// StringPtr returns nil for blank strings.
func StringPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
