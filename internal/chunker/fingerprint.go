package chunker

import "github.com/hyperjump/kioku/internal/models"

// Fingerprint counts the substructures present in a section.
func Fingerprint(s *models.Section) models.Fingerprint {
	fp := models.Fingerprint{
		StatCount:    len(s.Stats),
		BulletCount:  len(s.Bullets),
		ColumnCount:  len(s.Columns),
		StepCount:    len(s.Timeline),
		HasImage:     s.Image != "",
		HasSource:    s.Source != "",
		HasExhibit:   s.Exhibit != "",
		HasNextSteps: len(s.NextSteps) > 0,
	}
	fp.HasStats = fp.StatCount > 0
	fp.HasBullets = fp.BulletCount > 0
	fp.HasColumns = fp.ColumnCount > 0
	fp.HasTimeline = fp.StepCount > 0
	fp.HasComparison = s.Compare != nil && len(s.Compare.Rows) > 0
	fp.HasIcons = hasIcons(s.Bullets)
	return fp
}

// ClassifyPosition maps a zero-based index within total slides onto opening, middle or closing.
// The first and last 15% of the normalized range are opening and closing; a single slide is opening.
func ClassifyPosition(index, total int) models.DeckPosition {
	if total <= 1 {
		return models.PositionOpening
	}
	r := float64(index) / float64(total-1)
	switch {
	case r <= edgeFraction:
		return models.PositionOpening
	case r >= 1-edgeFraction:
		return models.PositionClosing
	default:
		return models.PositionMiddle
	}
}

const edgeFraction = 0.15

// VerifyFingerprint reports whether fp agrees with the elements built for the slide.
func VerifyFingerprint(fp models.Fingerprint, elements []*models.ElementRecord) bool {
	counts := map[models.ElementType]int{}
	bullets := 0
	for _, e := range elements {
		counts[e.Type]++
		switch p := e.Payload.(type) {
		case models.BulletGroupPayload:
			bullets += len(p.Items)
		case models.IconBulletPayload:
			bullets += len(p.Items)
		}
	}
	return fp.StatCount == counts[models.ElementStat] &&
		fp.HasStats == (fp.StatCount > 0) &&
		fp.ColumnCount == counts[models.ElementColumn] &&
		fp.HasColumns == (fp.ColumnCount > 0) &&
		fp.StepCount == counts[models.ElementTimelineStep] &&
		fp.HasTimeline == (fp.StepCount > 0) &&
		fp.BulletCount == bullets &&
		fp.HasBullets == (bullets > 0) &&
		fp.HasComparison == (counts[models.ElementComparisonRow] > 0) &&
		fp.HasImage == (counts[models.ElementImage] > 0) &&
		fp.HasIcons == (counts[models.ElementIconBullet] > 0)
}

func hasIcons(bullets []models.Bullet) bool {
	for _, b := range bullets {
		if b.Icon != "" {
			return true
		}
	}
	return false
}
