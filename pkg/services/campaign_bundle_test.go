package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/adpilot/pkg/apperrors"
	"github.com/ekaya-inc/adpilot/pkg/models"
)

// bundleHandler answers create calls with sequential ids. Ad group creations
// listed in failAdGroups (1-based) fail.
func bundleHandler(failAdGroups ...int) func(string, map[string]any) (map[string]any, error) {
	adGroups := 0
	adCount := 0
	targets := 0
	return func(operation string, args map[string]any) (map[string]any, error) {
		switch operation {
		case models.ToolCreateCampaign:
			return map[string]any{"campaigns": []any{map[string]any{"campaignId": "C-NEW"}}}, nil
		case models.ToolCreateAdGroup:
			adGroups++
			for _, n := range failAdGroups {
				if n == adGroups {
					return nil, apperrors.NewAdapterError(apperrors.AdapterErrorPlatform, operation, "duplicate ad group name", nil)
				}
			}
			return map[string]any{"adGroups": []any{map[string]any{"adGroupId": fmt.Sprintf("AG-%d", adGroups)}}}, nil
		case models.ToolCreateAd:
			adCount++
			return map[string]any{"success": []any{map[string]any{"adId": fmt.Sprintf("AD-%d", adCount)}}}, nil
		case models.ToolCreateTarget:
			var created []any
			for range targetsBody(args) {
				targets++
				created = append(created, map[string]any{"targetId": fmt.Sprintf("T-%d", targets)})
			}
			return map[string]any{"targets": created}, nil
		}
		return nil, fmt.Errorf("unexpected operation %s", operation)
	}
}

func twoGroupPlan() models.CampaignPlan {
	budget := 25.0
	groupBid := 0.75
	kwBid := 1.2
	return models.CampaignPlan{
		Campaign: models.PlanCampaign{Name: "Shoes - Manual", DailyBudget: &budget, ASIN: "B000TEST"},
		AdGroups: []models.PlanAdGroup{
			{
				Name:       "Running",
				DefaultBid: &groupBid,
				Keywords: []models.PlanKeyword{
					{Text: "running shoes", MatchType: "EXACT", Bid: &kwBid},
					{Text: "jogging shoes"},
					{Text: ""},
				},
			},
			{
				Name:     "Trail",
				Keywords: []models.PlanKeyword{{Text: "trail shoes", MatchType: "sideways"}},
			},
		},
	}
}

func TestCampaignBundle_Execute(t *testing.T) {
	conn := &scriptedConn{handler: bundleHandler()}
	exec := NewCampaignBundleExecutor(zap.NewNop())

	result, err := exec.Execute(context.Background(), newTestSession(conn), twoGroupPlan())
	require.NoError(t, err)

	assert.Equal(t, "C-NEW", result.CampaignID)
	assert.Equal(t, []string{"AG-1", "AG-2"}, result.AdGroupIDs)
	assert.Equal(t, []string{"AD-1", "AD-2"}, result.AdIDs)
	assert.Equal(t, []string{"T-1", "T-2", "T-3"}, result.TargetIDs)
	assert.Empty(t, result.Errors)

	assert.Equal(t, []string{
		models.ToolCreateCampaign,
		models.ToolCreateAdGroup, models.ToolCreateAd, models.ToolCreateTarget,
		models.ToolCreateAdGroup, models.ToolCreateAd, models.ToolCreateTarget,
	}, conn.operations())

	campaign := conn.callsTo(models.ToolCreateCampaign)[0].Args["body"].(map[string]any)["campaigns"].([]any)[0].(map[string]any)
	assert.Equal(t, map[string]any{
		"name":          "Shoes - Manual",
		"adProduct":     "SPONSORED_PRODUCTS",
		"targetingType": "manual",
		"state":         "enabled",
		"dailyBudget":   25.0,
	}, campaign)

	firstTargets := targetsBody(conn.callsTo(models.ToolCreateTarget)[0].Args)
	require.Len(t, firstTargets, 2)
	assert.Equal(t, map[string]any{
		"adGroupId":      "AG-1",
		"expression":     "running shoes",
		"expressionType": "keyword",
		"matchType":      "exact",
		"bid":            1.2,
	}, firstTargets[0])
	assert.Equal(t, 0.75, firstTargets[1]["bid"])
	assert.Equal(t, "broad", firstTargets[1]["matchType"])

	secondTargets := targetsBody(conn.callsTo(models.ToolCreateTarget)[1].Args)
	require.Len(t, secondTargets, 1)
	assert.Equal(t, 0.5, secondTargets[0]["bid"])
	assert.Equal(t, "broad", secondTargets[0]["matchType"])
}

func TestCampaignBundle_SecondAdGroupFails(t *testing.T) {
	conn := &scriptedConn{handler: bundleHandler(2)}
	exec := NewCampaignBundleExecutor(zap.NewNop())

	result, err := exec.Execute(context.Background(), newTestSession(conn), twoGroupPlan())

	var partial *apperrors.PartialCompositeError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, "C-NEW", partial.ParentID)

	require.NotNil(t, result)
	assert.Equal(t, "C-NEW", result.CampaignID)
	assert.Equal(t, []string{"AG-1"}, result.AdGroupIDs)
	assert.Equal(t, []string{"AD-1"}, result.AdIDs)
	assert.Equal(t, []string{"T-1", "T-2"}, result.TargetIDs)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "ad group 2: ad group creation failed")
	assert.Contains(t, result.Errors[0], "duplicate ad group name")
}

func TestCampaignBundle_DefaultAdGroup(t *testing.T) {
	conn := &scriptedConn{handler: bundleHandler()}
	bid := 0.9

	result, err := NewCampaignBundleExecutor(zap.NewNop()).Execute(context.Background(), newTestSession(conn),
		models.CampaignPlan{Campaign: models.PlanCampaign{Name: "Bare", DefaultBid: &bid}})
	require.NoError(t, err)

	assert.Equal(t, []string{"AG-1"}, result.AdGroupIDs)
	assert.Empty(t, result.AdIDs)
	assert.Empty(t, result.TargetIDs)

	adGroup := conn.callsTo(models.ToolCreateAdGroup)[0].Args["body"].(map[string]any)["adGroups"].([]any)[0].(map[string]any)
	assert.Equal(t, map[string]any{
		"campaignId": "C-NEW",
		"name":       "Default Ad Group",
		"state":      "enabled",
		"defaultBid": 0.9,
	}, adGroup)
	assert.Equal(t, []string{models.ToolCreateCampaign, models.ToolCreateAdGroup}, conn.operations())
}

func TestCampaignBundle_PlanAdOverridesCampaignASIN(t *testing.T) {
	conn := &scriptedConn{handler: bundleHandler()}
	plan := models.CampaignPlan{
		Campaign: models.PlanCampaign{Name: "Ads", ASIN: "B000CAMPAIGN"},
		Ad:       &models.PlanAd{ASIN: "B000AD", Name: "Hero ad"},
	}

	_, err := NewCampaignBundleExecutor(zap.NewNop()).Execute(context.Background(), newTestSession(conn), plan)
	require.NoError(t, err)

	ad := conn.callsTo(models.ToolCreateAd)[0].Args["body"].(map[string]any)["ads"].([]any)[0].(map[string]any)
	assert.Equal(t, "B000AD", ad["asin"])
	assert.Equal(t, "Hero ad", ad["name"])
	assert.Equal(t, "AG-1", ad["adGroupId"])
}

func TestCampaignBundle_CampaignFailureFailsBundle(t *testing.T) {
	tests := []struct {
		name    string
		handler func(string, map[string]any) (map[string]any, error)
	}{
		{
			name: "create error",
			handler: func(string, map[string]any) (map[string]any, error) {
				return nil, errors.New("budget below minimum")
			},
		},
		{
			name: "no id returned",
			handler: func(string, map[string]any) (map[string]any, error) {
				return map[string]any{"campaigns": []any{}}, nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &scriptedConn{handler: tt.handler}

			result, err := NewCampaignBundleExecutor(zap.NewNop()).Execute(context.Background(), newTestSession(conn), twoGroupPlan())

			require.Error(t, err)
			assert.Nil(t, result)
			var partial *apperrors.PartialCompositeError
			assert.False(t, errors.As(err, &partial))
			assert.Equal(t, []string{models.ToolCreateCampaign}, conn.operations())
		})
	}
}

func TestCampaignBundle_EmptyPlan(t *testing.T) {
	conn := &scriptedConn{}

	_, err := NewCampaignBundleExecutor(zap.NewNop()).Execute(context.Background(), newTestSession(conn), models.CampaignPlan{})

	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.Empty(t, conn.operations())
}

func TestCreatedID(t *testing.T) {
	tests := []struct {
		name   string
		result map[string]any
		want   string
	}{
		{name: "collection", result: map[string]any{"campaigns": []any{map[string]any{"campaignId": "C1"}}}, want: "C1"},
		{name: "bare id", result: map[string]any{"campaignId": "C2"}, want: "C2"},
		{name: "success array", result: map[string]any{"success": []any{map[string]any{"id": "C3"}}}, want: "C3"},
		{name: "numeric id", result: map[string]any{"campaigns": []any{map[string]any{"campaignId": float64(123456)}}}, want: "123456"},
		{name: "nothing", result: map[string]any{"error": "x"}, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, createdID(tt.result, "campaigns", "campaignId", "success"))
		})
	}
}
